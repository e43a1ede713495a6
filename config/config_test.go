package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MAX_ACTIVE_ORDERS_PER_SELLER", "")
	t.Setenv("NEGOTIATION_TTL_HOURS", "")

	cfg := Load()

	assert.Equal(t, 10, cfg.Business.MaxActiveOrdersPerSeller)
	assert.Equal(t, 24*time.Hour, cfg.Business.NegotiationTTL)
	assert.Equal(t, 1000, cfg.Business.ChatMessageMaxLength)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MAX_ACTIVE_ORDERS_PER_SELLER", "3")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")
	t.Setenv("STORE_DRIVER", "memory")

	cfg := Load()

	assert.Equal(t, 3, cfg.Business.MaxActiveOrdersPerSeller)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "memory", cfg.Database.Driver)
}
