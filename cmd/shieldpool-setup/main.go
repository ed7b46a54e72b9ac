package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/umbra-labs/shieldpool-go/pkg/logger"
	"github.com/umbra-labs/shieldpool-go/pkg/zkp"
)

func main() {
	app := &cli.App{
		Name:  "shieldpool-setup",
		Usage: "Development Groth16 setup for the withdrawal circuit",
		Description: `Compiles the withdrawal circuit and runs a single-party Groth16 setup,
writing the proving and verifying key files.

The single-party setup is sufficient for development and testing. Production
deployments must install keys produced by a multi-party ceremony; this tool
is not that ceremony.`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "out-dir",
				Aliases: []string{"o"},
				Value:   ".",
				Usage:   "Directory for the generated key files",
			},
			&cli.StringFlag{
				Name:  "proving-key-file",
				Value: "shieldpool.pk",
				Usage: "Proving key file name",
			},
			&cli.StringFlag{
				Name:  "verifying-key-file",
				Value: "shieldpool.vk",
				Usage: "Verifying key file name",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Action: runSetup,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func runSetup(c *cli.Context) error {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("debug")})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()
	sugar := l.Sugar()

	sugar.Info("Compiling withdrawal circuit")
	ccs, err := zkp.Compile()
	if err != nil {
		return fmt.Errorf("circuit compilation failed: %w", err)
	}
	sugar.Infow("Circuit compiled", "constraints", ccs.GetNbConstraints())

	sugar.Info("Running Groth16 setup (single-party, development only)")
	pk, vk, err := zkp.Setup(ccs)
	if err != nil {
		return fmt.Errorf("setup failed: %w", err)
	}

	pkBytes, err := zkp.MarshalProvingKey(pk)
	if err != nil {
		return fmt.Errorf("failed to serialize proving key: %w", err)
	}
	vkBytes, err := zkp.MarshalVerifyingKey(vk)
	if err != nil {
		return fmt.Errorf("failed to serialize verifying key: %w", err)
	}

	outDir := c.String("out-dir")
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	pkPath := filepath.Join(outDir, c.String("proving-key-file"))
	if err := os.WriteFile(pkPath, pkBytes, 0600); err != nil {
		return fmt.Errorf("failed to write proving key: %w", err)
	}
	vkPath := filepath.Join(outDir, c.String("verifying-key-file"))
	if err := os.WriteFile(vkPath, vkBytes, 0644); err != nil {
		return fmt.Errorf("failed to write verifying key: %w", err)
	}

	sugar.Infow("Keys written",
		"proving_key", pkPath,
		"proving_key_bytes", len(pkBytes),
		"verifying_key", vkPath,
		"verifying_key_bytes", len(vkBytes))
	sugar.Infow("Next step",
		"hint", fmt.Sprintf("start the node with --verifying-key %s or install over POST /v1/admin/verifying-key", vkPath))
	return nil
}
