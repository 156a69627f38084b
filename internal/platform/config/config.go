package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile      = ".env"
	defaultPort         = "8080"
	defaultReadTimeout  = 15 * time.Second
	defaultWriteTimeout = 30 * time.Second
	defaultIdleTimeout  = 120 * time.Second
	defaultSMTPPort     = 587

	secretRefPrefix = "secret://"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server    ServerConfig
	Firestore FirestoreConfig
	Stripe    StripeConfig
	SMTP      SMTPConfig
	Tracking  TrackingConfig
	Store     StoreConfig
	Jobs      JobsConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StripeConfig collects payment processor credentials.
type StripeConfig struct {
	APIKey string
}

// SMTPConfig holds the outbound mail transport settings. An empty Host means
// no transport is configured and notifications degrade to a logged no-op.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Configured reports whether the transport settings are usable for sending.
func (c SMTPConfig) Configured() bool {
	return strings.TrimSpace(c.Host) != "" && strings.TrimSpace(c.From) != ""
}

// TrackingConfig controls customer-facing order tracking URLs.
type TrackingConfig struct {
	PublicBaseURL string
}

// StoreConfig is the display identity printed on receipts and messages.
type StoreConfig struct {
	Name    string
	Address string
	Phone   string
	Email   string
}

// JobsConfig names the Pub/Sub resources used for order event publishing.
type JobsConfig struct {
	ProjectID       string
	OrderEventTopic string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secrets      SecretResolver
}

// WithEnvFile overrides the dotenv file consulted during loading.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap supplies explicit values taking precedence over all other sources.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading the process environment (tests).
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver enables resolution of secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secrets = resolver
	}
}

// Load assembles the configuration from dotenv, process env, and explicit
// overrides (in ascending precedence), resolving secret references last.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	values, err := environmentValues(options)
	if err != nil {
		return Config{}, err
	}

	get := func(key string) string {
		return strings.TrimSpace(values[key])
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         defaultString(get("PORT"), defaultPort),
			ReadTimeout:  durationValue(get("SERVER_READ_TIMEOUT"), defaultReadTimeout),
			WriteTimeout: durationValue(get("SERVER_WRITE_TIMEOUT"), defaultWriteTimeout),
			IdleTimeout:  durationValue(get("SERVER_IDLE_TIMEOUT"), defaultIdleTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    get("FIRESTORE_PROJECT_ID"),
			EmulatorHost: get("FIRESTORE_EMULATOR_HOST"),
		},
		Stripe: StripeConfig{
			APIKey: get("STRIPE_API_KEY"),
		},
		SMTP: SMTPConfig{
			Host:     get("SMTP_HOST"),
			Port:     intValue(get("SMTP_PORT"), defaultSMTPPort),
			Username: get("SMTP_USERNAME"),
			Password: get("SMTP_PASSWORD"),
			From:     get("SMTP_FROM"),
		},
		Tracking: TrackingConfig{
			PublicBaseURL: get("TRACKING_BASE_URL"),
		},
		Store: StoreConfig{
			Name:    get("STORE_NAME"),
			Address: get("STORE_ADDRESS"),
			Phone:   get("STORE_PHONE"),
			Email:   get("STORE_EMAIL"),
		},
		Jobs: JobsConfig{
			ProjectID:       defaultString(get("PUBSUB_PROJECT_ID"), get("FIRESTORE_PROJECT_ID")),
			OrderEventTopic: get("ORDER_EVENTS_TOPIC"),
		},
	}

	if err := resolveSecrets(ctx, &cfg, options.secrets); err != nil {
		return Config{}, err
	}

	var missing []string
	if cfg.Firestore.ProjectID == "" && cfg.Firestore.EmulatorHost == "" {
		missing = append(missing, "FIRESTORE_PROJECT_ID")
	}
	if cfg.Tracking.PublicBaseURL == "" {
		missing = append(missing, "TRACKING_BASE_URL")
	}
	if cfg.Store.Name == "" {
		missing = append(missing, "STORE_NAME")
	}
	if len(missing) > 0 {
		return Config{}, &ValidationError{fields: missing}
	}

	return cfg, nil
}

// resolveSecrets replaces secret:// references in credential fields.
func resolveSecrets(ctx context.Context, cfg *Config, resolver SecretResolver) error {
	refs := []*string{&cfg.Stripe.APIKey, &cfg.SMTP.Password, &cfg.SMTP.Username}
	for _, field := range refs {
		if !strings.HasPrefix(*field, secretRefPrefix) {
			continue
		}
		if resolver == nil {
			return errors.New("config: secret reference present but no resolver configured")
		}
		resolved, err := resolver.ResolveSecret(ctx, strings.TrimPrefix(*field, secretRefPrefix))
		if err != nil {
			return fmt.Errorf("config: resolve secret: %w", err)
		}
		*field = strings.TrimSpace(resolved)
	}
	return nil
}

func environmentValues(options loaderOptions) (map[string]string, error) {
	values := make(map[string]string)

	fromFile, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	for key, value := range fromFile {
		values[key] = value
	}

	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			if key, value, ok := strings.Cut(entry, "="); ok {
				values[key] = value
			}
		}
	}

	for key, value := range options.envMap {
		values[key] = value
	}

	return values, nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: open env file %s: %w", path, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"'`)
		if key != "" {
			values[key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read env file %s: %w", path, err)
	}
	return values, nil
}

func defaultString(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

func durationValue(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func intValue(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
