package config

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config contains all configuration for the console client.
type Config struct {
	Console ConsoleConfig `mapstructure:"console"`
	Connect ConnectConfig `mapstructure:"connect"`
	Log     LogConfig     `mapstructure:"log"`
}

// ConsoleConfig selects the console server socket and the detach escape.
type ConsoleConfig struct {
	// SocketID names the console; the server listens on the abstract
	// socket "obmc-console.<socket_id>".
	SocketID string `mapstructure:"socket_id"`

	// SocketPath, when set, overrides the abstract namespace with an
	// explicit filesystem socket path.
	SocketPath string `mapstructure:"socket_path"`

	// Escape is the detach sequence recognized after a carriage return.
	Escape string `mapstructure:"escape"`
}

// ConnectConfig controls connection establishment.
type ConnectConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// LogConfig contains logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ConfigureZerolog applies the log configuration to the global logger.
// Output goes to w (the caller passes stderr so the relayed console
// stream on stdout stays clean).
func (c *LogConfig) ConfigureZerolog(w io.Writer) {
	level := zerolog.WarnLevel
	switch strings.ToLower(c.Level) {
	case "trace":
		level = zerolog.TraceLevel
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn", "warning":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	case "fatal":
		level = zerolog.FatalLevel
	}
	zerolog.SetGlobalLevel(level)

	if strings.ToLower(c.Format) != "json" {
		w = zerolog.ConsoleWriter{Out: w}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}

// Load reads configuration from file, environment, and defaults.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	// Config search paths
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.obmc-console")
	viper.AddConfigPath("/etc/obmc-console/")

	// Environment variable overrides, e.g. OBMC_CONSOLE_SOCKET_ID
	viper.SetEnvPrefix("OBMC")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.BindEnv("console.socket_id")
	viper.BindEnv("console.socket_path")
	viper.BindEnv("console.escape")
	viper.BindEnv("log.level")

	// Defaults
	viper.SetDefault("console.socket_id", "default")
	viper.SetDefault("console.socket_path", "")
	viper.SetDefault("console.escape", "~.")
	viper.SetDefault("connect.timeout", 10*time.Second)
	viper.SetDefault("log.level", "warn")
	viper.SetDefault("log.format", "console")

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks the configuration for values the client cannot run with.
func (c *Config) Validate() error {
	if c.Console.SocketID == "" && c.Console.SocketPath == "" {
		return fmt.Errorf("console socket id is required")
	}

	if n := len(c.Console.Escape); n < 1 || n > 8 {
		return fmt.Errorf("escape sequence must be 1 to 8 bytes, got %d", n)
	}

	if strings.ContainsRune(c.Console.Escape, '\r') {
		return fmt.Errorf("escape sequence must not contain a carriage return")
	}

	if c.Connect.Timeout <= 0 {
		return fmt.Errorf("connect timeout must be positive")
	}

	return nil
}

// EscapeSequence returns the detach sequence as bytes.
func (c *Config) EscapeSequence() []byte {
	return []byte(c.Console.Escape)
}
