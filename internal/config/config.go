package config

import (
	"errors"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Server struct {
	Addr string `mapstructure:"addr"`
	// PublicURL is the site origin used in links handed to other apps.
	PublicURL string `mapstructure:"public_url"`
}

type Database struct {
	DSN string `mapstructure:"dsn"`
}

type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type Kafka struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type JWT struct {
	Secret string `mapstructure:"secret"`
	// Token lifetime in hours.
	ExpiresIn int `mapstructure:"expires_in"`
}

type Log struct {
	Development bool `mapstructure:"development"`
}

type Config struct {
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
	Redis    Redis    `mapstructure:"redis"`
	Kafka    Kafka    `mapstructure:"kafka"`
	JWT      JWT      `mapstructure:"jwt"`
	Log      Log      `mapstructure:"log"`
}

// Load reads config.yaml (if present in path) and lets the environment override it.
// The short variable names used by the docker setup (DB_DSN, JWT_SECRET, REDIS_ADDR)
// are bound explicitly next to the nested SERVER_ADDR style keys.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.public_url", "https://floboats.com")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("kafka.topic", "message.sent")
	v.SetDefault("jwt.expires_in", 24)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("database.dsn", "DB_DSN", "DATABASE_DSN")
	_ = v.BindEnv("jwt.secret", "JWT_SECRET")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	_ = v.BindEnv("server.public_url", "PUBLIC_URL")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.Kafka.Brokers = splitBrokers(cfg.Kafka.Brokers)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return errors.New("database.dsn (DB_DSN) is not set")
	}
	if c.JWT.Secret == "" {
		return errors.New("jwt.secret (JWT_SECRET) is not set")
	}
	if c.Redis.Addr == "" {
		return errors.New("redis.addr missing")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return errors.New("kafka.topic missing")
	}
	return nil
}

// KAFKA_BROKERS arrives as one comma separated string.
func splitBrokers(in []string) []string {
	var out []string
	for _, b := range in {
		for _, part := range strings.Split(b, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
