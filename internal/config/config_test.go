package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORE_DRIVER", "badger")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8083, cfg.Port)
	assert.Equal(t, StoreDriverBadger, cfg.StoreDriver)
	assert.Equal(t, BrokerDriverMemory, cfg.BrokerDriver)
	assert.Equal(t, 2*time.Second, cfg.PublishTimeout)
	assert.Equal(t, "job-chat-service", cfg.ServiceName)
	assert.Equal(t, "messages.new", cfg.KafkaTopic)
	assert.Empty(t, cfg.Brokers())
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
}

func TestValidateRejectsUnknownDrivers(t *testing.T) {
	base := Config{
		JWTSecret:      "secret",
		StoreDriver:    StoreDriverPostgres,
		DBDSN:          "postgres://x",
		BrokerDriver:   BrokerDriverMemory,
		PublishTimeout: time.Second,
	}
	require.NoError(t, base.Validate())

	bad := base
	bad.StoreDriver = "mysql"
	assert.Error(t, bad.Validate())

	bad = base
	bad.BrokerDriver = "nats"
	assert.Error(t, bad.Validate())

	bad = base
	bad.BrokerDriver = BrokerDriverRedis
	bad.RedisAddr = ""
	assert.Error(t, bad.Validate())

	bad = base
	bad.PublishTimeout = 0
	assert.Error(t, bad.Validate())
}

func TestBrokersSplitsList(t *testing.T) {
	cfg := Config{KafkaBrokers: "kafka-1:9092, kafka-2:9092,,"}
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Brokers())
}
