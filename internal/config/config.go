// Package config loads the service configuration from file and environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	// Environment is DEV or PROD; DEV enables the auth bypass knob.
	Environment   string `mapstructure:"environment"`
	DevModeBypass bool   `mapstructure:"dev_mode_bypass"`

	Server struct {
		Addr            string        `mapstructure:"addr"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`

	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`

	Auth struct {
		Issuer       string `mapstructure:"issuer"`
		ClientID     string `mapstructure:"client_id"`
		ClientSecret string `mapstructure:"client_secret"`
		RedirectURL  string `mapstructure:"redirect_url"`
	} `mapstructure:"auth"`

	// Executor configures the external interpreter spawned per execution.
	Executor struct {
		// Interpreter is the binary used to run the script (e.g. python3).
		Interpreter string `mapstructure:"interpreter"`
		// Script is the path of the interpreter entrypoint.
		Script string `mapstructure:"script"`
		// Timeout bounds the wall-clock time of one execution. Zero
		// disables the bound. The original service had no timeout; this
		// is deliberate new behavior.
		Timeout time.Duration `mapstructure:"timeout"`
		// OpenAIAPIKey is forwarded to the interpreter environment.
		OpenAIAPIKey string `mapstructure:"openai_api_key"`
	} `mapstructure:"executor"`

	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`

	CORS struct {
		Origins []string `mapstructure:"origins"`
	} `mapstructure:"cors"`
}

// DSN renders the postgres connection string. The same string is handed to
// the executor process so it can append node-level logs while running.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode,
	)
}

// LoadConfig loads the configuration from a file and the environment.
// If path is empty the default search locations are used.
func LoadConfig(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}
	viper.SetEnvPrefix("FLOWLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// Config file is optional; env vars and defaults can carry a dev setup.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Auth.Issuer = strings.TrimRight(strings.TrimSpace(config.Auth.Issuer), "/")

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("environment", "DEV")
	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("server.shutdown_timeout", 30*time.Second)
	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", 5432)
	viper.SetDefault("db.user", "flowline")
	viper.SetDefault("db.name", "flowline")
	viper.SetDefault("db.sslmode", "disable")
	viper.SetDefault("executor.interpreter", "python3")
	viper.SetDefault("executor.script", "executor/main.py")
	viper.SetDefault("executor.timeout", 10*time.Minute)
}
