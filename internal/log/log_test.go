package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestFormatSet(t *testing.T) {
	var f Format
	require.NoError(t, f.Set("JSON"))
	assert.Equal(t, FormatJSON, f)
	assert.Error(t, f.Set("xml"))
}

func TestAddFlags(t *testing.T) {
	opts := NewDefaultOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	opts.AddFlags(fs)

	require.NoError(t, fs.Parse([]string{"--debug", "--log-format", "json"}))
	assert.True(t, opts.Debug)
	assert.Equal(t, FormatJSON, opts.Format)
	assert.NoError(t, opts.Validate())
}

func TestNewWithSink_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithSink(false, FormatJSON, zapcore.AddSync(&buf)).Sugar()

	logger.Debugw("hidden")
	logger.Infow("declared", "resource", "MyVpc")
	require.NoError(t, logger.Sync())

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "declared", line["msg"])
	assert.Equal(t, "MyVpc", line["resource"])
	assert.Equal(t, "info", line["level"])
}
