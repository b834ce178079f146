package internal

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	DriverBadger   = "badger"
	DriverPostgres = "postgres"
)

type Config struct {
	Host                 string        `env:"HOST,default=0.0.0.0"`
	Port                 int           `env:"PORT,default=8080" validate:"min=1,max=65535"`
	GrpcHealthPort       int           `env:"GRPC_HEALTH_PORT,default=8081" validate:"min=1,max=65535"`
	LogLevel             string        `env:"LOG_LEVEL,default=INFO"`
	StorageDriver        string        `env:"STORAGE_DRIVER,default=badger" validate:"oneof=badger postgres"`
	BadgerFilepath       string        `env:"BADGER_FILEPATH,default=./data/badger" validate:"required_if=StorageDriver badger"`
	PostgresDSN          string        `env:"POSTGRES_DSN" validate:"required_if=StorageDriver postgres"`
	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=64" validate:"min=1"`
	DeliveryTimeout      time.Duration `env:"DELIVERY_TIMEOUT,default=2s" validate:"gt=0"`
	LaneBufferSize       int           `env:"LANE_BUFFER_SIZE,default=128" validate:"min=1"`
	LaneIdleTimeout      time.Duration `env:"LANE_IDLE_TIMEOUT,default=1m" validate:"gt=0"`
	JwtSecret            string        `env:"JWT_SECRET"`
	MaxContentLength     int           `env:"MAX_CONTENT_LENGTH,default=4000" validate:"min=1"`
	EnableModeration     bool          `env:"ENABLE_MODERATION,default=false"`
	CharReplacement      string        `env:"CHARACTER_REPLACEMENT,default=*"`
	MetricInterval       time.Duration `env:"METRIC_INTERVAL,default=15s" validate:"gt=0"`
	ShutdownTimeout      time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s" validate:"gt=0"`
}

// Validate checks the decoded values that go-env cannot express.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.EnableModeration {
		if _, err := CharacterRune(c.CharReplacement); err != nil {
			return err
		}
	}
	return nil
}

func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c Config) GrpcHealthAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.GrpcHealthPort)
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}
