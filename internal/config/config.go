package config

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Storage drivers.
const (
	StorageLocal = "local"
	StorageMinio = "minio"
)

// Extractor drivers.
const (
	ExtractorStatic = "static"
	ExtractorRemote = "remote"
	ExtractorDlib   = "dlib"
)

// minStagingMaxAge keeps the sweep interval, half the max age, well above zero.
const minStagingMaxAge = time.Second

// Config contains server configuration parameters.
type Config struct {
	LogLevel  int       `env:"LOG_LEVEL" envDefault:"0"`
	HTTP      HTTP      `envPrefix:"HTTP_"`
	Store     Store
	Database  Database  `envPrefix:"DATABASE_"`
	SQLite    SQLite    `envPrefix:"SQLITE_"`
	Storage   Storage
	Minio     Minio     `envPrefix:"MINIO_"`
	Extractor Extractor `envPrefix:"EXTRACTOR_"`
	Match     Match     `envPrefix:"MATCH_"`
	Admin     Admin     `envPrefix:"ADMIN_"`
	JWT       JWT       `envPrefix:"JWT_"`
}

// HTTP contains HTTP server parameters.
type HTTP struct {
	Port               string        `env:"PORT" envDefault:"4010"`
	EnableHTTPS        bool          `env:"ENABLE_HTTPS" envDefault:"false"`
	CertFileName       string        `env:"CERT_FILE_NAME" envDefault:"cert.pem"`
	PrivateKeyFileName string        `env:"PRIVATE_KEY_FILE_NAME" envDefault:"key.pem"`
	RequestTimeout     time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	MaxUploadBytes     int64         `env:"MAX_UPLOAD_BYTES" envDefault:"10485760"`
	AllowedOrigins     []string      `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
}

// Store selects the identity store backend.
type Store struct {
	Driver string `env:"STORE_DRIVER" envDefault:"memory"`
}

// Database contains PostgreSQL connection parameters.
type Database struct {
	DSN string `env:"DSN"`
}

// SQLite contains the embedded database file location.
type SQLite struct {
	Path string `env:"PATH" envDefault:"faceid.db"`
}

// Storage selects where enrollment images live and where requests stage files.
type Storage struct {
	Driver        string        `env:"STORAGE_DRIVER" envDefault:"local"`
	UploadDir     string        `env:"UPLOAD_DIR" envDefault:"uploads"`
	StagingDir    string        `env:"STAGING_DIR"`
	StagingMaxAge time.Duration `env:"STAGING_MAX_AGE" envDefault:"15m"`
}

// Minio contains object storage parameters.
type Minio struct {
	Endpoint  string `env:"ENDPOINT" envDefault:"localhost:9000"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	Bucket    string `env:"BUCKET_NAME" envDefault:"faceid-images"`
	UseSSL    bool   `env:"USE_SSL" envDefault:"false"`
}

// Extractor configures the face descriptor extractor.
type Extractor struct {
	Driver        string        `env:"DRIVER" envDefault:"static"`
	URL           string        `env:"URL"`
	ModelDir      string        `env:"MODEL_DIR" envDefault:"models"`
	MinConfidence float64       `env:"MIN_CONFIDENCE" envDefault:"0.7"`
	MaxDimension  int           `env:"MAX_DIMENSION" envDefault:"1024"`
	Timeout       time.Duration `env:"TIMEOUT" envDefault:"10s"`
	Dimension     int           `env:"DIMENSION" envDefault:"128"`
}

// Match contains matching parameters.
type Match struct {
	Threshold float64 `env:"THRESHOLD" envDefault:"0.36"`
}

// Admin contains the administrator credentials.
type Admin struct {
	Username     string `env:"USERNAME" envDefault:"admin"`
	Password     string `env:"PASSWORD"`
	PasswordHash string `env:"PASSWORD_HASH"`
}

// JWT contains JWT-related parameters.
type JWT struct {
	Secret string        `env:"SECRET"`
	TTL    time.Duration `env:"TTL" envDefault:"1h"`
}

// NewConfig loads an optional .env file and then configuration from environment variables.
func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Match.Threshold <= 0 || math.IsNaN(c.Match.Threshold) || math.IsInf(c.Match.Threshold, 0) {
		errs = append(errs, fmt.Errorf("MATCH_THRESHOLD must be positive, got %v", c.Match.Threshold))
	}
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.HTTP.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("HTTP_MAX_UPLOAD_BYTES must be positive"))
	}
	if c.Storage.StagingMaxAge != 0 && c.Storage.StagingMaxAge < minStagingMaxAge {
		errs = append(errs, fmt.Errorf("STAGING_MAX_AGE must be 0 to disable sweeping or at least %s, got %s",
			minStagingMaxAge, c.Storage.StagingMaxAge))
	}

	switch c.Store.Driver {
	case StoreMemory:
	case StorePostgres:
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("DATABASE_DSN is required for the postgres store"))
		}
	case StoreSQLite:
		if c.SQLite.Path == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver))
	}

	switch c.Storage.Driver {
	case StorageLocal:
	case StorageMinio:
		if c.Minio.Endpoint == "" || c.Minio.Bucket == "" {
			errs = append(errs, errors.New("MINIO_ENDPOINT and MINIO_BUCKET_NAME are required for minio storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_DRIVER %q", c.Storage.Driver))
	}

	switch c.Extractor.Driver {
	case ExtractorStatic:
		if c.Extractor.Dimension <= 0 {
			errs = append(errs, errors.New("EXTRACTOR_DIMENSION must be positive"))
		}
	case ExtractorRemote:
		if c.Extractor.URL == "" {
			errs = append(errs, errors.New("EXTRACTOR_URL is required for the remote extractor"))
		}
	case ExtractorDlib:
	default:
		errs = append(errs, fmt.Errorf("unknown EXTRACTOR_DRIVER %q", c.Extractor.Driver))
	}

	return errors.Join(errs...)
}
