package goBankAuth

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	// DefaultBaseURL is the bank API root, without the version segment.
	DefaultBaseURL = "https://auth.api.swedbank.se/TDE_DAP_Portal_REST_WEB/api/"
	// DefaultAPIVersion is appended to the base URL.
	DefaultAPIVersion = "v4"
	// EnvPrefix prefixes every environment variable read by LoadConfig.
	EnvPrefix = "BANKAUTH_"
)

// Config holds everything a Session needs besides credentials and app identity.
type Config struct {
	BaseURL    string `env:"BASE_URL" envDefault:"https://auth.api.swedbank.se/TDE_DAP_Portal_REST_WEB/api/" validate:"required,url"`
	APIVersion string `env:"API_VERSION" envDefault:"v4" validate:"required,alphanum"`
	// Debug logs every exchange at debug level. Passwords are redacted.
	Debug bool `env:"DEBUG"`

	Transport    TransportConfig    `envPrefix:"TRANSPORT_"`
	Persistence  PersistenceConfig  `envPrefix:"PERSISTENCE_"`
	Verification VerificationConfig `envPrefix:"VERIFICATION_"`
	Metrics      MetricsConfig      `envPrefix:"METRICS_"`
	Audit        AuditConfig        `envPrefix:"AUDIT_"`
}

/*
====================================
TRANSPORT CONFIG
====================================
*/

// TransportConfig controls the per-session HTTP client.
type TransportConfig struct {
	Timeout      time.Duration `env:"TIMEOUT" envDefault:"30s" validate:"gt=0s"`
	MaxRedirects int           `env:"MAX_REDIRECTS" envDefault:"10" validate:"gte=0,lte=50"`
	// SkipTLSVerify disables certificate verification against the bank API.
	// The upstream is a closed app API reached through fixed hosts; the
	// default keeps the behaviour the mobile apps' API has always been used with.
	SkipTLSVerify    bool  `env:"SKIP_TLS_VERIFY" envDefault:"true"`
	MaxResponseBytes int64 `env:"MAX_RESPONSE_BYTES" envDefault:"10485760" validate:"gt=0"`
}

/*
====================================
PERSISTENCE CONFIG
====================================
*/

// PersistenceConfig is applied to stores created by the Builder.
type PersistenceConfig struct {
	KeyPrefix string        `env:"KEY_PREFIX" envDefault:"swedbankjson_auth" validate:"required,excludesall=:"`
	TTL       time.Duration `env:"TTL" envDefault:"30m" validate:"gte=0s"`
	// SealingKey signs stored records when non-empty. At least 32 bytes.
	SealingKey string `env:"SEALING_KEY"`
}

// VerificationConfig controls Mobile BankID polling.
type VerificationConfig struct {
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"2s" validate:"gt=0s"`
}

// AuditConfig controls each session's audit trail. Events that do not fit
// in BufferSize are dropped and counted.
type AuditConfig struct {
	Enabled    bool `env:"ENABLED"`
	BufferSize int  `env:"BUFFER_SIZE" envDefault:"64" validate:"gte=0"`
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool `env:"ENABLED"`
	EnableLatencyHistograms bool `env:"ENABLE_LATENCY_HISTOGRAMS"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the configuration used when nothing is overridden.
// It matches the envDefault tags.
func DefaultConfig() Config {
	return Config{
		BaseURL:    DefaultBaseURL,
		APIVersion: DefaultAPIVersion,
		Transport: TransportConfig{
			Timeout:          30 * time.Second,
			MaxRedirects:     10,
			SkipTLSVerify:    true,
			MaxResponseBytes: 10 << 20,
		},
		Persistence: PersistenceConfig{
			KeyPrefix: "swedbankjson_auth",
			TTL:       30 * time.Minute,
		},
		Verification: VerificationConfig{
			PollInterval: 2 * time.Second,
		},
		Audit: AuditConfig{
			BufferSize: 64,
		},
	}
}

// LoadConfig reads optional dotenv files, then BANKAUTH_* variables. With
// no files it tries ".env" and ignores its absence.
func LoadConfig(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) || len(files) > 0 {
			return Config{}, fmt.Errorf("load env file: %w", err)
		}
	}

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Endpoint returns the versioned API root, always ending in "/".
func (c *Config) Endpoint() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + c.APIVersion + "/"
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks struct tags, then rules spanning several fields.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("config: BaseURL: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("config: BaseURL scheme %q is not http(s)", u.Scheme)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return errors.New("config: BaseURL must not carry a query or fragment")
	}

	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("config: Metrics.EnableLatencyHistograms requires Metrics.Enabled")
	}
	if c.Persistence.SealingKey != "" && len(c.Persistence.SealingKey) < 32 {
		return errors.New("config: Persistence.SealingKey must be at least 32 bytes")
	}
	return nil
}

func formatValidationErrors(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: %w", err)
	}
	msgs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Errorf("config: %s fails %s=%s", field, fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Errorf("config: %s fails %s", field, fe.Tag()))
	}
	return errors.Join(msgs...)
}
