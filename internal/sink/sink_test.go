package sink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinytelemetry/msgrelay/internal/config"
)

func TestNew_SelectsVariant(t *testing.T) {
	cfg := config.Default().Sink

	cfg.Type = config.SinkWebhook
	cfg.Webhook.URL = "https://hooks.example.com/x"
	s, err := New(cfg, quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &Webhook{}, s)
	_, paced := s.(Pacer)
	assert.True(t, paced)

	cfg.Type = config.SinkEmail
	s, err = New(cfg, quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &Email{}, s)

	cfg.Type = config.SinkKafka
	cfg.Kafka.Brokers = []string{"127.0.0.1:9092"}
	s, err = New(cfg, quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &Kafka{}, s)
	_, closer := s.(Closer)
	assert.True(t, closer)

	cfg.Type = "carrier-pigeon"
	_, err = New(cfg, quietLogger())
	assert.Error(t, err)
}
