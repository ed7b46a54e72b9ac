// Package auth verifies bearer tokens for the admin surface. Trusted
// keys come from a local JWK or PEM file, or from a remote JWKS
// endpoint refreshed in the background.
package auth

import (
	"bytes"
	"context"
	"os"
	"time"

	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jws"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DefaultRefreshInterval is the JWKS re-fetch cadence when the config
// does not set one.
const DefaultRefreshInterval = 15 * time.Minute

// Config selects the key source and the claims an admin token must
// carry. Exactly one of JWKSURL and KeyFile must be set.
type Config struct {
	JWKSURL         string
	KeyFile         string
	Issuer          string
	Audience        string
	RefreshInterval time.Duration
}

// Claims carries the identity of a verified admin token.
type Claims struct {
	Subject string
	Issuer  string
}

// Verifier checks admin bearer tokens against a trusted key set.
type Verifier struct {
	logger   *zap.SugaredLogger
	keys     jwk.Set
	issuer   string
	audience string
}

// NewVerifier builds a verifier from config. In file mode the keys are
// loaded once; in URL mode a cache fetches the JWKS at startup and
// keeps it fresh on the configured interval.
func NewVerifier(ctx context.Context, cfg *Config, logger *zap.Logger) (*Verifier, error) {
	if cfg == nil {
		return nil, errors.New("auth config cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Issuer == "" || cfg.Audience == "" {
		return nil, errors.New("issuer and audience are required")
	}
	if (cfg.JWKSURL == "") == (cfg.KeyFile == "") {
		return nil, errors.New("exactly one of JWKSURL and KeyFile must be set")
	}

	sugar := logger.Sugar().With("component", "auth")

	var keys jwk.Set
	var err error
	if cfg.KeyFile != "" {
		keys, err = loadKeyFile(cfg.KeyFile)
		if err != nil {
			return nil, errors.Wrapf(err, "load key file %s", cfg.KeyFile)
		}
		sugar.Infow("Admin key set loaded", "key_file", cfg.KeyFile, "keys", keys.Len())
	} else {
		interval := cfg.RefreshInterval
		if interval <= 0 {
			interval = DefaultRefreshInterval
		}
		keys, err = newJWKCache(ctx, cfg.JWKSURL, interval)
		if err != nil {
			return nil, errors.Wrap(err, "create jwks cache")
		}
		sugar.Infow("Admin JWKS cache initialized", "jwks_url", cfg.JWKSURL, "refresh_interval", interval)
	}

	return &Verifier{
		logger:   sugar,
		keys:     keys,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
	}, nil
}

// NewStaticVerifier builds a verifier over an in-memory key set, for
// callers that manage key material themselves.
func NewStaticVerifier(keys jwk.Set, issuer, audience string, logger *zap.Logger) (*Verifier, error) {
	if keys == nil || keys.Len() == 0 {
		return nil, errors.New("key set is empty")
	}
	if issuer == "" || audience == "" {
		return nil, errors.New("issuer and audience are required")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	return &Verifier{
		logger:   logger.Sugar().With("component", "auth"),
		keys:     keys,
		issuer:   issuer,
		audience: audience,
	}, nil
}

// Verify parses and verifies a compact JWT against the trusted key set
// and checks the issuer, audience, and subject bindings. Any error
// means the request is unauthorized.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.New("empty token")
	}

	// PEM-loaded keys carry no alg and admin tokens may omit the kid,
	// so matching widens past the strict JWKS defaults.
	token, err := jwt.Parse(
		[]byte(tokenString),
		jwt.WithKeySet(v.keys, jws.WithInferAlgorithmFromKey(true), jws.WithRequireKid(false)),
		jwt.WithValidate(true),
	)
	if err != nil {
		return nil, errors.Wrap(err, "token verification failed")
	}

	issuer, ok := token.Issuer()
	if !ok {
		return nil, errors.New("issuer claim not found in token")
	}
	if issuer != v.issuer {
		return nil, errors.Errorf("invalid issuer: expected %s, got %s", v.issuer, issuer)
	}

	audiences, ok := token.Audience()
	if !ok {
		return nil, errors.New("audience claim not found in token")
	}
	if len(audiences) != 1 {
		return nil, errors.Errorf("audience must contain exactly one value, got %d", len(audiences))
	}
	if audiences[0] != v.audience {
		return nil, errors.Errorf("invalid audience: expected %s, got %s", v.audience, audiences[0])
	}

	subject, ok := token.Subject()
	if !ok || subject == "" {
		return nil, errors.New("subject claim not found in token")
	}

	v.logger.Debugw("Admin token verified", "subject", subject)
	return &Claims{Subject: subject, Issuer: issuer}, nil
}

// loadKeyFile reads a JWK set, a single JWK, or a PEM public key.
func loadKeyFile(path string) (jwk.Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseKeyBytes(data)
}

// ParseKeyBytes accepts a JWK set, a single JWK, or a PEM block and
// returns it as a key set.
func ParseKeyBytes(data []byte) (jwk.Set, error) {
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("-----BEGIN")) {
		key, err := jwk.ParseKey(data, jwk.WithPEM(true))
		if err != nil {
			return nil, errors.Wrap(err, "parse pem key")
		}
		set := jwk.NewSet()
		if err := set.AddKey(key); err != nil {
			return nil, err
		}
		return set, nil
	}

	set, err := jwk.Parse(data)
	if err != nil {
		return nil, errors.Wrap(err, "parse jwk set")
	}
	if set.Len() == 0 {
		return nil, errors.New("key set is empty")
	}
	return set, nil
}

func newJWKCache(ctx context.Context, jwkURL string, refreshInterval time.Duration) (jwk.Set, error) {
	cache, err := jwk.NewCache(ctx, httprc.NewClient())
	if err != nil {
		return nil, errors.Wrap(err, "failed to create jwk cache")
	}

	// register a constant refresh interval for this URL.
	if err := cache.Register(ctx, jwkURL, jwk.WithConstantInterval(refreshInterval)); err != nil {
		return nil, errors.Wrap(err, "failed to register jwk location")
	}

	// fetch once on startup so a dead endpoint fails loudly.
	if _, err := cache.Refresh(ctx, jwkURL); err != nil {
		return nil, errors.Wrap(err, "failed to fetch on startup")
	}

	return cache.CachedSet(jwkURL)
}
