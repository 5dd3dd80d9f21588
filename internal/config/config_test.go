package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_EnvOnly(t *testing.T) {
	t.Setenv("DB_DSN", "postgres://u:p@localhost/floboats")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "postgres://u:p@localhost/floboats", cfg.Database.DSN)
	assert.Equal(t, "s3cret", cfg.JWT.Secret)
	assert.Equal(t, 24, cfg.JWT.ExpiresIn)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "message.sent", cfg.Kafka.Topic)
	assert.Equal(t, "https://floboats.com", cfg.Server.PublicURL)
}

func TestLoad_FileThenEnvOverride(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`
server:
  addr: ":9000"
database:
  dsn: "postgres://file"
jwt:
  secret: "from-file"
log:
  development: true
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600))
	t.Setenv("JWT_SECRET", "from-env")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "postgres://file", cfg.Database.DSN)
	assert.Equal(t, "from-env", cfg.JWT.Secret)
	assert.True(t, cfg.Log.Development)
}

func TestValidate(t *testing.T) {
	t.Run("missing dsn", func(t *testing.T) {
		cfg := &Config{JWT: JWT{Secret: "x"}, Redis: Redis{Addr: "r"}}
		assert.ErrorContains(t, cfg.Validate(), "DB_DSN")
	})
	t.Run("missing secret", func(t *testing.T) {
		cfg := &Config{Database: Database{DSN: "d"}, Redis: Redis{Addr: "r"}}
		assert.ErrorContains(t, cfg.Validate(), "JWT_SECRET")
	})
	t.Run("brokers without topic", func(t *testing.T) {
		cfg := &Config{
			Database: Database{DSN: "d"},
			JWT:      JWT{Secret: "x"},
			Redis:    Redis{Addr: "r"},
			Kafka:    Kafka{Brokers: []string{"k:9092"}},
		}
		assert.ErrorContains(t, cfg.Validate(), "kafka.topic")
	})
}
