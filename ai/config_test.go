package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, "http://localhost:11434/v1", cfg.GeneratorHost)
	assert.Equal(t, "http://localhost:11434/v1", cfg.EmbeddingHost)
	require.NoError(t, cfg.Validate())
}

func TestNewConfigOptions(t *testing.T) {
	cfg := NewConfig(
		WithHost("http://llm.internal:9100"),
		WithGeneratorModel("gpt-4o-mini"),
		WithEmbeddingModel("text-embedding-3-small"),
	)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "http://llm.internal:9100/v1", cfg.GeneratorHost)
	assert.Equal(t, "http://llm.internal:9100/v1", cfg.EmbeddingHost)
	assert.Equal(t, "gpt-4o-mini", cfg.GeneratorModel)
}

func TestNormalizeAddsV1(t *testing.T) {
	tests := []struct {
		name string
		host string
		want string
	}{
		{name: "bare host", host: "http://localhost:11434", want: "http://localhost:11434/v1"},
		{name: "trailing slash", host: "http://localhost:11434/", want: "http://localhost:11434/v1"},
		{name: "already normalized", host: "http://localhost:11434/v1", want: "http://localhost:11434/v1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig(WithHost(tt.host))
			cfg.Normalize()
			assert.Equal(t, tt.want, cfg.GeneratorHost)
			assert.Equal(t, tt.want, cfg.EmbeddingHost)
		})
	}
}

func TestValidateRejectsEmpty(t *testing.T) {
	cfg := NewConfig(WithGeneratorModel(""))
	assert.Error(t, cfg.Validate())

	cfg = NewConfig()
	cfg.EmbeddingHost = ""
	assert.Error(t, cfg.Validate())
}
