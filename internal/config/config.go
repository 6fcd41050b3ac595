package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or an env-file loaded in main).
// No business logic should depend on raw environment variables.
type Config struct {
	App     AppConfig
	DB      DBConfig
	Redis   RedisConfig
	Auth    AuthConfig
	Voice   VoiceConfig
	Blob    BlobConfig
	Vector  VectorConfig
	Trigger TriggerConfig
	Carrier CarrierConfig
	Calls   CallsConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode must be explicit in production.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTokenTTL time.Duration
}

// VoiceConfig configures the voice platform REST client and webhook.
type VoiceConfig struct {
	BaseURL       string
	APIKey        string
	AssistantID   string
	PhoneNumberID string
	WebhookSecret string
}

// BlobConfig configures the object storage endpoint. Two bucket classes:
// legal holds immutable long-retention copies, active is the working set.
type BlobConfig struct {
	Endpoint     string
	AccessToken  string
	LegalBucket  string
	ActiveBucket string
}

// VectorConfig configures the similarity index. Optional: when URL is empty
// the pipeline skips the index step.
type VectorConfig struct {
	URL    string
	APIKey string
}

// TriggerConfig secures the registration webhook source.
type TriggerConfig struct {
	WebhookSecret string
}

// CarrierConfig secures the telephony carrier webhook source.
type CarrierConfig struct {
	WebhookSecret string
}

// CallsConfig carries scheduling policy knobs.
type CallsConfig struct {
	// FirstCallDelay is the wait between registration and the first call.
	FirstCallDelay time.Duration
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL = optDuration("JWT_ACCESS_TTL")

	c.Voice.BaseURL = strings.TrimSpace(os.Getenv("VOICE_BASE_URL"))
	c.Voice.APIKey = os.Getenv("VOICE_API_KEY")
	c.Voice.AssistantID = strings.TrimSpace(os.Getenv("VOICE_ASSISTANT_ID"))
	c.Voice.PhoneNumberID = strings.TrimSpace(os.Getenv("VOICE_PHONE_NUMBER_ID"))
	c.Voice.WebhookSecret = os.Getenv("VOICE_WEBHOOK_SECRET")

	c.Blob.Endpoint = strings.TrimSpace(os.Getenv("BLOB_ENDPOINT"))
	c.Blob.AccessToken = os.Getenv("BLOB_ACCESS_TOKEN")
	c.Blob.LegalBucket = strings.TrimSpace(os.Getenv("BLOB_LEGAL_BUCKET"))
	c.Blob.ActiveBucket = strings.TrimSpace(os.Getenv("BLOB_ACTIVE_BUCKET"))

	c.Vector.URL = strings.TrimSpace(os.Getenv("VECTOR_URL"))
	c.Vector.APIKey = os.Getenv("VECTOR_API_KEY")

	c.Trigger.WebhookSecret = os.Getenv("TRIGGER_WEBHOOK_SECRET")
	c.Carrier.WebhookSecret = os.Getenv("CARRIER_WEBHOOK_SECRET")

	c.Calls.FirstCallDelay = optDuration("FIRST_CALL_DELAY")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
		if c.Voice.WebhookSecret == "" {
			errs = append(errs, errors.New("VOICE_WEBHOOK_SECRET is required in production"))
		}
		if c.Trigger.WebhookSecret == "" {
			errs = append(errs, errors.New("TRIGGER_WEBHOOK_SECRET is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}

	if c.Voice.BaseURL == "" {
		errs = append(errs, errors.New("VOICE_BASE_URL is required"))
	}
	if c.Voice.APIKey == "" {
		errs = append(errs, errors.New("VOICE_API_KEY is required"))
	}
	if c.Voice.AssistantID == "" {
		errs = append(errs, errors.New("VOICE_ASSISTANT_ID is required"))
	}

	if c.Blob.Endpoint != "" {
		if c.Blob.LegalBucket == "" {
			errs = append(errs, errors.New("BLOB_LEGAL_BUCKET is required when BLOB_ENDPOINT is set"))
		}
		if c.Blob.ActiveBucket == "" {
			errs = append(errs, errors.New("BLOB_ACTIVE_BUCKET is required when BLOB_ENDPOINT is set"))
		}
	}

	if c.Calls.FirstCallDelay <= 0 {
		// Registration-to-first-call wait.
		c.Calls.FirstCallDelay = 2 * time.Hour
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
