package kafka

import (
	"testing"

	"github.com/Shopify/sarama"
	"github.com/flexprice/billingops/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSaramaConfig(t *testing.T) {
	cfg := config.GetDefaultConfig()

	sc := GetSaramaConfig(cfg)
	assert.True(t, sc.Producer.Return.Successes)
	assert.False(t, sc.Net.SASL.Enable)
	assert.Equal(t, "billingops", sc.ClientID)

	cfg.Kafka.UseSASL = true
	cfg.Kafka.SASLMechanism = sarama.SASLTypeSCRAMSHA256
	cfg.Kafka.SASLUser = "u"
	cfg.Kafka.SASLPassword = "p"

	sc = GetSaramaConfig(cfg)
	assert.True(t, sc.Net.SASL.Enable)
	assert.True(t, sc.Net.TLS.Enable)
	assert.Equal(t, sarama.SASLMechanism(sarama.SASLTypeSCRAMSHA256), sc.Net.SASL.Mechanism)
	require.NotNil(t, sc.Net.SASL.SCRAMClientGeneratorFunc)

	client := sc.Net.SASL.SCRAMClientGeneratorFunc()
	require.NoError(t, client.Begin("u", "p", ""))
	assert.False(t, client.Done())
}
