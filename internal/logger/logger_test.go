package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "json", config: Config{Level: "debug", Format: "json"}},
		{name: "console", config: Config{Level: "info", Format: "console"}},
		{name: "empty config uses defaults", config: Config{}},
		{name: "invalid level", config: Config{Level: "loud", Format: "json"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := New(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, log)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, log)
		})
	}
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "bolahunter.log")
	log, err := New(Config{Level: "info", Format: "json", File: &FileConfig{Enabled: true, Path: path}})
	require.NoError(t, err)

	log.WithComponent("engine").Info("Harvested identifier")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"engine"`)
	assert.Contains(t, string(data), "Harvested identifier")
}

func TestRedactHeaders(t *testing.T) {
	safe := RedactHeaders(map[string][]string{
		"Authorization": {"Bearer abc"},
		"Cookie":        {"session=1"},
		"Accept":        {"application/json", "text/plain"},
		"X-Empty":       {},
	})

	assert.Equal(t, "[REDACTED]", safe["Authorization"])
	assert.Equal(t, "[REDACTED]", safe["Cookie"])
	assert.Equal(t, "application/json", safe["Accept"])
	_, ok := safe["X-Empty"]
	assert.False(t, ok)
}
