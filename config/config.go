package config

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Env      string         `yaml:"env"`
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	JWT      JWTConfig      `yaml:"jwt"`
	OTP      OTPConfig      `yaml:"otp"`
	Lockout  LockoutConfig  `yaml:"lockout"`
	Tokens   TokenConfig    `yaml:"tokens"`
	Locales  []string       `yaml:"locales"`
	OAuth    OAuthConfig    `yaml:"oauth"`
	Mail     MailConfig     `yaml:"mail"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Log      LogConfig      `yaml:"log"`
}

// HTTPConfig.TrustedProxies lists the CIDRs allowed to set X-Forwarded-For. With none,
// the client address is the TCP peer.
type HTTPConfig struct {
	Addr           string   `yaml:"addr"`
	CookieDomain   string   `yaml:"cookie_domain"`
	SecureCookies  bool     `yaml:"secure_cookies"`
	TrustedProxies []string `yaml:"trusted_proxies"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type JWTConfig struct {
	Secret    string        `yaml:"secret"`
	MFASecret string        `yaml:"mfa_secret"`
	Issuer    string        `yaml:"issuer"`
	AccessTTL time.Duration `yaml:"access_ttl"`
	MFATTL    time.Duration `yaml:"mfa_ttl"`
}

// OTPConfig holds the key ring for TOTP secrets at rest. Keys is "id:hex,id:hex" with
// 32 byte keys; PrimaryKey picks the sealing key and defaults to the first entry.
type OTPConfig struct {
	Issuer     string `yaml:"issuer"`
	Keys       string `yaml:"keys"`
	PrimaryKey string `yaml:"primary_key"`
}

type LockoutConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Window      time.Duration `yaml:"window"`
	Cooldown    time.Duration `yaml:"cooldown"`
}

type TokenConfig struct {
	ConfirmationTTL time.Duration `yaml:"confirmation_ttl"`
	ResetTTL        time.Duration `yaml:"reset_ttl"`
	RememberTTL     time.Duration `yaml:"remember_ttl"`
}

type OAuthConfig struct {
	PlaceholderDomain string            `yaml:"placeholder_domain"`
	ProfileURLs       map[string]string `yaml:"profile_urls"`
}

type MailConfig struct {
	Driver       string `yaml:"driver"`
	ResendAPIKey string `yaml:"resend_api_key"`
	From         string `yaml:"from"`
	AppBaseURL   string `yaml:"app_base_url"`
	QueueSize    int    `yaml:"queue_size"`
	Workers      int    `yaml:"workers"`
}

type RabbitMQConfig struct {
	URL             string `yaml:"url"`
	Queue           string `yaml:"queue"`
	QueueDurable    bool   `yaml:"queue_durable"`
	QueueAutoDelete bool   `yaml:"queue_auto_delete"`
	PrefetchCount   int    `yaml:"prefetch_count"`
	// MaxDeliveries caps attempts per message before it is dead-lettered.
	MaxDeliveries    int    `yaml:"max_deliveries"`
	DeadLetterSuffix string `yaml:"dead_letter_suffix"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const (
	MailDriverLog      = "log"
	MailDriverResend   = "resend"
	MailDriverRabbitMQ = "rabbitmq"
)

func Default() Config {
	return Config{
		Env: "production",
		HTTP: HTTPConfig{
			Addr:          ":8080",
			SecureCookies: true,
		},
		JWT: JWTConfig{
			Issuer:    "authcore",
			AccessTTL: 15 * time.Minute,
			MFATTL:    5 * time.Minute,
		},
		OTP: OTPConfig{Issuer: "authcore"},
		Lockout: LockoutConfig{
			MaxAttempts: 5,
			Window:      15 * time.Minute,
			Cooldown:    30 * time.Minute,
		},
		Tokens: TokenConfig{
			ConfirmationTTL: 24 * time.Hour,
			ResetTTL:        30 * time.Minute,
			RememberTTL:     14 * 24 * time.Hour,
		},
		Locales: []string{"en"},
		OAuth: OAuthConfig{
			PlaceholderDomain: "users.invalid",
			ProfileURLs: map[string]string{
				"github": "https://github.com/%s",
			},
		},
		Mail: MailConfig{
			Driver:    MailDriverLog,
			QueueSize: 256,
			Workers:   2,
		},
		RabbitMQ: RabbitMQConfig{
			Queue:            "authcore.notifications",
			QueueDurable:     true,
			PrefetchCount:    10,
			MaxDeliveries:    5,
			DeadLetterSuffix: ".dead",
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads .env (when present), then the optional YAML file at path, then environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	c.Env = getEnv("APP_ENV", c.Env)
	c.HTTP.Addr = getEnv("HTTP_ADDR", c.HTTP.Addr)
	c.HTTP.CookieDomain = getEnv("COOKIE_DOMAIN", c.HTTP.CookieDomain)
	c.Database.URL = getEnv("DATABASE_URL", c.Database.URL)
	c.JWT.Secret = getEnv("JWT_SECRET", c.JWT.Secret)
	c.JWT.MFASecret = getEnv("MFA_JWT_SECRET", c.JWT.MFASecret)
	c.JWT.Issuer = getEnv("JWT_ISSUER", c.JWT.Issuer)
	c.OTP.Issuer = getEnv("OTP_ISSUER", c.OTP.Issuer)
	c.OTP.Keys = getEnv("OTP_SECRET_KEYS", c.OTP.Keys)
	c.OTP.PrimaryKey = getEnv("OTP_PRIMARY_KEY", c.OTP.PrimaryKey)
	c.OAuth.PlaceholderDomain = getEnv("OAUTH_PLACEHOLDER_DOMAIN", c.OAuth.PlaceholderDomain)
	c.Mail.Driver = getEnv("MAIL_DRIVER", c.Mail.Driver)
	c.Mail.ResendAPIKey = getEnv("RESEND_API_KEY", c.Mail.ResendAPIKey)
	c.Mail.From = getEnv("MAIL_FROM", c.Mail.From)
	c.Mail.AppBaseURL = getEnv("APP_BASE_URL", c.Mail.AppBaseURL)
	c.RabbitMQ.URL = getEnv("RABBITMQ_URL", c.RabbitMQ.URL)
	c.RabbitMQ.Queue = getEnv("RABBITMQ_QUEUE", c.RabbitMQ.Queue)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
	if locales, ok := os.LookupEnv("SUPPORTED_LOCALES"); ok {
		c.Locales = splitList(locales)
	}
	if proxies, ok := os.LookupEnv("TRUSTED_PROXIES"); ok {
		c.HTTP.TrustedProxies = splitList(proxies)
	}

	var err error
	if c.HTTP.SecureCookies, err = getEnvBool("COOKIE_SECURE", c.HTTP.SecureCookies); err != nil {
		return err
	}
	if c.Lockout.MaxAttempts, err = getEnvInt("LOCKOUT_MAX_ATTEMPTS", c.Lockout.MaxAttempts); err != nil {
		return err
	}
	if c.RabbitMQ.MaxDeliveries, err = getEnvInt("RABBITMQ_MAX_DELIVERIES", c.RabbitMQ.MaxDeliveries); err != nil {
		return err
	}
	durations := []struct {
		key    string
		target *time.Duration
	}{
		{"JWT_ACCESS_TTL", &c.JWT.AccessTTL},
		{"JWT_MFA_TTL", &c.JWT.MFATTL},
		{"LOCKOUT_WINDOW", &c.Lockout.Window},
		{"LOCKOUT_COOLDOWN", &c.Lockout.Cooldown},
		{"CONFIRMATION_TOKEN_TTL", &c.Tokens.ConfirmationTTL},
		{"RESET_TOKEN_TTL", &c.Tokens.ResetTTL},
		{"REMEMBER_TOKEN_TTL", &c.Tokens.RememberTTL},
	}
	for _, d := range durations {
		if *d.target, err = getEnvDuration(d.key, *d.target); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.URL) == "" {
		return errors.New("database url is required")
	}
	if len(c.JWT.Secret) < 32 {
		return errors.New("jwt secret must be at least 32 bytes")
	}
	if c.JWT.MFASecret != "" {
		if len(c.JWT.MFASecret) < 32 {
			return errors.New("mfa jwt secret must be at least 32 bytes")
		}
		if c.JWT.MFASecret == c.JWT.Secret {
			return errors.New("mfa jwt secret must differ from the jwt secret")
		}
	}
	if _, err := c.HTTP.TrustedProxyRanges(); err != nil {
		return err
	}
	if _, _, err := c.OTP.KeyRing(); err != nil {
		return err
	}
	if c.Lockout.MaxAttempts <= 0 || c.Lockout.Window <= 0 || c.Lockout.Cooldown <= 0 {
		return errors.New("lockout max attempts, window and cooldown must be positive")
	}
	if len(c.Locales) == 0 {
		return errors.New("at least one supported locale is required")
	}
	switch c.Mail.Driver {
	case MailDriverLog:
	case MailDriverResend:
		if c.Mail.ResendAPIKey == "" || c.Mail.From == "" {
			return errors.New("resend mail driver needs an api key and a from address")
		}
	case MailDriverRabbitMQ:
		if c.RabbitMQ.URL == "" || c.RabbitMQ.Queue == "" {
			return errors.New("rabbitmq mail driver needs a url and a queue")
		}
		if c.RabbitMQ.MaxDeliveries < 1 {
			return errors.New("rabbitmq max deliveries must be at least 1")
		}
	default:
		return fmt.Errorf("unknown mail driver %q", c.Mail.Driver)
	}
	return nil
}

// MFASigningSecret is MFASecret, or when unset a key derived from Secret so challenge
// tokens and access tokens never share a signing key.
func (c JWTConfig) MFASigningSecret() string {
	if c.MFASecret != "" {
		return c.MFASecret
	}
	mac := hmac.New(sha256.New, []byte(c.Secret))
	mac.Write([]byte("authcore mfa challenge"))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c HTTPConfig) TrustedProxyRanges() ([]*net.IPNet, error) {
	ranges := make([]*net.IPNet, 0, len(c.TrustedProxies))
	for _, cidr := range c.TrustedProxies {
		_, network, err := net.ParseCIDR(strings.TrimSpace(cidr))
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", cidr, err)
		}
		ranges = append(ranges, network)
	}
	return ranges, nil
}

// KeyRing parses Keys and returns the primary key id with every key by id.
func (c OTPConfig) KeyRing() (string, map[string][]byte, error) {
	entries := splitList(c.Keys)
	if len(entries) == 0 {
		return "", nil, errors.New("otp secret keys are required")
	}
	keys := make(map[string][]byte, len(entries))
	primary := c.PrimaryKey
	for _, entry := range entries {
		id, encoded, ok := strings.Cut(entry, ":")
		id = strings.TrimSpace(id)
		if !ok || id == "" {
			return "", nil, fmt.Errorf("otp key %q must look like id:hex", entry)
		}
		key, err := hex.DecodeString(strings.TrimSpace(encoded))
		if err != nil {
			return "", nil, fmt.Errorf("otp key %q: %w", id, err)
		}
		if len(key) != 32 {
			return "", nil, fmt.Errorf("otp key %q must be 32 bytes", id)
		}
		if _, dup := keys[id]; dup {
			return "", nil, fmt.Errorf("otp key %q listed twice", id)
		}
		keys[id] = key
		if primary == "" {
			primary = id
		}
	}
	if _, ok := keys[primary]; !ok {
		return "", nil, fmt.Errorf("otp primary key %q is not in the key ring", primary)
	}
	return primary, keys, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue, nil
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
