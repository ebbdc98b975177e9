package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Brownie44l1/gamelan-classifier/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, model.DefaultLabels, cfg.ClassLabels())
	assert.Equal(t, model.DefaultThresholds(), cfg.Thresholds())
	assert.Equal(t, 1, cfg.PoolSize)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, int64(10<<20), cfg.MaxUploadBytes)
	assert.Equal(t, int64(50_000_000), cfg.MaxImagePixels)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("GAMELAN_MODEL_PATH", "/srv/models/blitar.onnx")
	t.Setenv("GAMELAN_LABELS", "Balungan, Bonang,Kendang,Slentho")
	t.Setenv("GAMELAN_THRESHOLD_HIGH", "0.8")
	t.Setenv("GAMELAN_POOL_SIZE", "4")
	t.Setenv("GAMELAN_MAX_IMAGE_PIXELS", "16000000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/srv/models/blitar.onnx", cfg.ModelPath)
	assert.Equal(t, model.Labels{"Balungan", "Bonang", "Kendang", "Slentho"}, cfg.ClassLabels())
	assert.Equal(t, 0.8, cfg.Thresholds().High)
	assert.Equal(t, 4, cfg.ServerConfig().PoolSize)
	assert.Equal(t, int64(16_000_000), cfg.MaxImagePixels)
}

func TestLoad_UnprefixedPort(t *testing.T) {
	t.Setenv("PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
}

func TestLoad_DotenvFile(t *testing.T) {
	path := writeFile(t, ".env", "GAMELAN_LOG_FORMAT=json\n")
	t.Cleanup(func() { os.Unsetenv("GAMELAN_LOG_FORMAT") })

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoad_MissingDotenvFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.env"))
	assert.Error(t, err)
}

func TestLoad_LabelsFile(t *testing.T) {
	path := writeFile(t, "labels.txt", "# Blitar set\nBalungan\n\nBonang\nKendang\n  Slentho  \n")
	t.Setenv("GAMELAN_LABELS_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, model.Labels{"Balungan", "Bonang", "Kendang", "Slentho"}, cfg.ClassLabels())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"inverted thresholds", "GAMELAN_THRESHOLD_MEDIUM", "0.9"},
		{"duplicate labels", "GAMELAN_LABELS", "Bonang,Bonang"},
		{"zero pool", "GAMELAN_POOL_SIZE", "0"},
		{"bad number", "GAMELAN_THRESHOLD_HIGH", "very"},
		{"missing labels file", "GAMELAN_LABELS_PATH", "/does/not/exist.txt"},
		{"zero upload limit", "GAMELAN_MAX_UPLOAD_BYTES", "0"},
		{"negative pixel limit", "GAMELAN_MAX_IMAGE_PIXELS", "-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			cfg, err := Load()
			assert.Nil(t, cfg)
			assert.Error(t, err)
		})
	}
}
