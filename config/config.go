package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	LatePaymentReconcile        = "reconcile"
	LatePaymentAdmitIfAvailable = "admit_if_available"
)

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Storage  string         `yaml:"storage"`
	Memory   MemoryConfig   `yaml:"memory"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Stripe   StripeConfig   `yaml:"stripe"`
	Booking  BookingConfig  `yaml:"booking"`
	Worker   WorkerConfig   `yaml:"worker"`
	Log      LogConfig      `yaml:"log"`
}

type HTTPConfig struct {
	Address    string `yaml:"address"`
	SwaggerDir string `yaml:"swagger_dir"`
	BaseURL    string `yaml:"base_url"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
	Migrate  bool   `yaml:"migrate"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// MemoryConfig applies to storage "memory". SeedFile is a YAML fixture of
// lots, events and assignments loaded at startup.
type MemoryConfig struct {
	SeedFile string `yaml:"seed_file"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers            []string `yaml:"brokers"`
	ReservationsTopic  string   `yaml:"reservations_topic"`
	NotificationsTopic string   `yaml:"notifications_topic"`
	GroupID            string   `yaml:"group_id"`
}

type StripeConfig struct {
	SecretKey     string `yaml:"secret_key"`
	WebhookSecret string `yaml:"webhook_secret"`
	Currency      string `yaml:"currency"`
}

type BookingConfig struct {
	HoldTTLMinutes       int    `yaml:"hold_ttl_minutes"`
	AvailabilityCacheTTL int    `yaml:"availability_cache_ttl_seconds"`
	LatePaymentPolicy    string `yaml:"late_payment_policy"`
	GateSessionTTLHours  int    `yaml:"gate_session_ttl_hours"`
	VenueTimezone        string `yaml:"venue_timezone"`
	QRMarker             string `yaml:"qr_marker"`
}

func (b BookingConfig) HoldTTL() time.Duration {
	return time.Duration(b.HoldTTLMinutes) * time.Minute
}

func (b BookingConfig) Location() *time.Location {
	loc, err := time.LoadLocation(b.VenueTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type WorkerConfig struct {
	ExpirationSweepSeconds int `yaml:"expiration_sweep_seconds"`
	ExpirationBatchSize    int `yaml:"expiration_batch_size"`
	NoShowAfterHours       int `yaml:"no_show_after_hours"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// LoadConfig reads the YAML file at path. A .env file next to the process is
// loaded first when present, and ${VAR} references in the YAML are expanded
// from the environment so secrets stay out of the file.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return Parse([]byte(os.ExpandEnv(string(data))))
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if c.HTTP.BaseURL == "" {
		c.HTTP.BaseURL = "http://localhost:8080"
	}
	if c.Storage == "" {
		c.Storage = StoragePostgres
	}
	if c.Stripe.Currency == "" {
		c.Stripe.Currency = "usd"
	}
	if c.Booking.HoldTTLMinutes == 0 {
		c.Booking.HoldTTLMinutes = 30
	}
	if c.Booking.AvailabilityCacheTTL == 0 {
		c.Booking.AvailabilityCacheTTL = 15
	}
	if c.Booking.LatePaymentPolicy == "" {
		c.Booking.LatePaymentPolicy = LatePaymentReconcile
	}
	if c.Booking.GateSessionTTLHours == 0 {
		c.Booking.GateSessionTTLHours = 12
	}
	if c.Booking.VenueTimezone == "" {
		c.Booking.VenueTimezone = "America/Chicago"
	}
	if c.Booking.QRMarker == "" {
		c.Booking.QRMarker = "PARK"
	}
	if c.Worker.ExpirationSweepSeconds == 0 {
		c.Worker.ExpirationSweepSeconds = 30
	}
	if c.Worker.ExpirationBatchSize == 0 {
		c.Worker.ExpirationBatchSize = 500
	}
	if c.Worker.NoShowAfterHours == 0 {
		c.Worker.NoShowAfterHours = 36
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Storage {
	case StorageMemory, StoragePostgres:
	default:
		errs = append(errs, fmt.Errorf("storage must be %q or %q, got %q", StoragePostgres, StorageMemory, c.Storage))
	}
	switch c.Booking.LatePaymentPolicy {
	case LatePaymentReconcile, LatePaymentAdmitIfAvailable:
	default:
		errs = append(errs, fmt.Errorf("booking.late_payment_policy must be %q or %q", LatePaymentReconcile, LatePaymentAdmitIfAvailable))
	}
	if c.Booking.HoldTTLMinutes < 0 {
		errs = append(errs, errors.New("booking.hold_ttl_minutes must be positive"))
	}
	if c.Worker.ExpirationSweepSeconds <= 0 {
		errs = append(errs, errors.New("worker.expiration_sweep_seconds must be positive"))
	}
	if c.Worker.NoShowAfterHours <= 0 {
		errs = append(errs, errors.New("worker.no_show_after_hours must be positive"))
	}
	if c.Stripe.WebhookSecret == "" {
		errs = append(errs, errors.New("stripe.webhook_secret is required"))
	}
	if _, err := time.LoadLocation(c.Booking.VenueTimezone); err != nil {
		errs = append(errs, fmt.Errorf("booking.venue_timezone: %w", err))
	}
	return errors.Join(errs...)
}
