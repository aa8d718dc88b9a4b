package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("NEGATIVE_STOCK_POLICY", "")
	t.Setenv("STRICT_COMMIT", "")

	cfg := Load()

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "reject", cfg.Business.NegativeStockPolicy)
	assert.False(t, cfg.Business.StrictCommit)
	assert.Equal(t, 3, cfg.Business.CommitMaxRetries)
	assert.Equal(t, 3, cfg.Business.ConfirmationDismissSeconds)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "MEMORY")
	t.Setenv("STRICT_COMMIT", "true")
	t.Setenv("NEGATIVE_STOCK_POLICY", "allow")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("COMMIT_MAX_RETRIES", "not-a-number")

	cfg := Load()

	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.True(t, cfg.Business.StrictCommit)
	assert.Equal(t, "allow", cfg.Business.NegativeStockPolicy)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 3, cfg.Business.CommitMaxRetries)
}
