package config

import (
	"fmt"
	"strconv"

	"k8s.io/apimachinery/pkg/util/validation/field"
)

// Environment variable names for node configuration
const (
	EnvPort             = "SHIELDPOOL_PORT"
	EnvStoreBackend     = "SHIELDPOOL_STORE_BACKEND"
	EnvBadgerDir        = "SHIELDPOOL_BADGER_DIR"
	EnvRedisAddress     = "SHIELDPOOL_REDIS_ADDRESS"
	EnvRedisPassword    = "SHIELDPOOL_REDIS_PASSWORD"
	EnvRedisDB          = "SHIELDPOOL_REDIS_DB"
	EnvTreeDepth        = "SHIELDPOOL_TREE_DEPTH"
	EnvRootHistorySize  = "SHIELDPOOL_ROOT_HISTORY_SIZE"
	EnvVerifyingKeyPath = "SHIELDPOOL_VERIFYING_KEY_PATH"
	EnvAdminJWKSURL     = "SHIELDPOOL_ADMIN_JWKS_URL"
	EnvAdminKeyFile     = "SHIELDPOOL_ADMIN_KEY_FILE"
	EnvAdminIssuer      = "SHIELDPOOL_ADMIN_ISSUER"
	EnvAdminAudience    = "SHIELDPOOL_ADMIN_AUDIENCE"
	EnvRateLimitRPS     = "SHIELDPOOL_RATE_LIMIT_RPS"
	EnvRateLimitBurst   = "SHIELDPOOL_RATE_LIMIT_BURST"
	EnvDebug            = "SHIELDPOOL_DEBUG"
)

type StoreBackend string

func (b StoreBackend) String() string {
	return string(b)
}

const (
	StoreBackendMemory StoreBackend = "memory"
	StoreBackendBadger StoreBackend = "badger"
	StoreBackendRedis  StoreBackend = "redis"
)

// SupportedStoreBackends returns all selectable persistence backends
func SupportedStoreBackends() []StoreBackend {
	return []StoreBackend{StoreBackendMemory, StoreBackendBadger, StoreBackendRedis}
}

// SupportedStoreBackendsString returns the backends as a string for CLI help
func SupportedStoreBackendsString() string {
	return fmt.Sprintf("%s, %s, %s", StoreBackendMemory, StoreBackendBadger, StoreBackendRedis)
}

const (
	DefaultPort           = 8420
	DefaultRateLimitRPS   = 5.0
	DefaultRateLimitBurst = 10
	maxTreeDepth          = 31
	maxRedisDB            = 15
)

// NodeConfig represents the complete configuration for a shielded pool node
type NodeConfig struct {
	// Service surface
	Port int `json:"port"`

	// Persistence
	StoreBackend  StoreBackend `json:"store_backend"`
	BadgerDir     string       `json:"badger_dir,omitempty"`
	RedisAddress  string       `json:"redis_address,omitempty"`
	RedisPassword string       `json:"redis_password,omitempty"`
	RedisDB       int          `json:"redis_db,omitempty"`

	// Pool geometry (zero selects the package defaults)
	TreeDepth       int `json:"tree_depth"`
	RootHistorySize int `json:"root_history_size"`

	// Optional verifying key preload at startup
	VerifyingKeyPath string `json:"verifying_key_path,omitempty"`

	// Admin auth. Leaving all four unset disables the admin endpoints.
	AdminJWKSURL  string `json:"admin_jwks_url,omitempty"`
	AdminKeyFile  string `json:"admin_key_file,omitempty"`
	AdminIssuer   string `json:"admin_issuer,omitempty"`
	AdminAudience string `json:"admin_audience,omitempty"`

	// Rate limiting on the mutating endpoints
	RateLimitRPS   float64 `json:"rate_limit_rps"`
	RateLimitBurst int     `json:"rate_limit_burst"`

	// Operational settings
	Debug bool `json:"debug"`
}

// DefaultNodeConfig returns a config that serves from memory on the
// default port. Production deployments override the backend.
func DefaultNodeConfig() *NodeConfig {
	return &NodeConfig{
		Port:           DefaultPort,
		StoreBackend:   StoreBackendMemory,
		RateLimitRPS:   DefaultRateLimitRPS,
		RateLimitBurst: DefaultRateLimitBurst,
	}
}

// AdminEnabled reports whether any admin auth setting is present.
func (c *NodeConfig) AdminEnabled() bool {
	return c.AdminJWKSURL != "" || c.AdminKeyFile != "" || c.AdminIssuer != "" || c.AdminAudience != ""
}

// Validate validates the node configuration
func (c *NodeConfig) Validate() error {
	var allErrors field.ErrorList

	if c.Port < 1 || c.Port > 65535 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("port"), c.Port, "port must be between 1-65535"))
	}

	switch c.StoreBackend {
	case StoreBackendMemory:
	case StoreBackendBadger:
		if c.BadgerDir == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("badgerDir"), "badger backend requires a data directory"))
		}
	case StoreBackendRedis:
		if c.RedisAddress == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("redisAddress"), "redis backend requires an address"))
		}
		if c.RedisDB < 0 || c.RedisDB > maxRedisDB {
			allErrors = append(allErrors, field.Invalid(field.NewPath("redisDB"), c.RedisDB, fmt.Sprintf("redis db must be between 0-%d", maxRedisDB)))
		}
	default:
		supported := make([]string, 0, 3)
		for _, b := range SupportedStoreBackends() {
			supported = append(supported, b.String())
		}
		allErrors = append(allErrors, field.NotSupported(field.NewPath("storeBackend"), c.StoreBackend, supported))
	}

	if c.TreeDepth < 0 || c.TreeDepth > maxTreeDepth {
		allErrors = append(allErrors, field.Invalid(field.NewPath("treeDepth"), c.TreeDepth, fmt.Sprintf("tree depth must be between 0-%d", maxTreeDepth)))
	}
	if c.RootHistorySize < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("rootHistorySize"), c.RootHistorySize, "root history size cannot be negative"))
	}

	if c.AdminEnabled() {
		if c.AdminIssuer == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("adminIssuer"), "admin auth requires an issuer"))
		}
		if c.AdminAudience == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("adminAudience"), "admin auth requires an audience"))
		}
		hasURL := c.AdminJWKSURL != ""
		hasFile := c.AdminKeyFile != ""
		if hasURL == hasFile {
			allErrors = append(allErrors, field.Invalid(field.NewPath("adminJWKSURL"), c.AdminJWKSURL, "admin auth requires exactly one of a JWKS URL or a key file"))
		}
	}

	if c.RateLimitRPS < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("rateLimitRPS"), c.RateLimitRPS, "rate limit cannot be negative"))
	}
	if c.RateLimitBurst < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("rateLimitBurst"), c.RateLimitBurst, "rate limit burst cannot be negative"))
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("rateLimitBurst"), c.RateLimitBurst, "burst must be at least 1 when rate limiting is on"))
	}

	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

// ParseStoreBackend parses a backend name as given on the command line
func ParseStoreBackend(s string) (StoreBackend, error) {
	switch StoreBackend(s) {
	case StoreBackendMemory:
		return StoreBackendMemory, nil
	case StoreBackendBadger:
		return StoreBackendBadger, nil
	case StoreBackendRedis:
		return StoreBackendRedis, nil
	default:
		return "", fmt.Errorf("unsupported store backend: %s. Supported: %s", s, SupportedStoreBackendsString())
	}
}

// FormatRateLimit renders the RPS value for CLI help and logs
func FormatRateLimit(rps float64) string {
	return strconv.FormatFloat(rps, 'f', -1, 64)
}
