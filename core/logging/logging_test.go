package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		level   zapcore.Level
		wantErr bool
	}{
		{name: "default is info", cfg: Config{}, level: zapcore.InfoLevel},
		{name: "debug development", cfg: Config{Level: "DEBUG", Development: true}, level: zapcore.DebugLevel},
		{name: "warn production", cfg: Config{Level: "warn"}, level: zapcore.WarnLevel},
		{name: "unknown level", cfg: Config{Level: "loud"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, l.Core().Enabled(tt.level))
			assert.False(t, l.Core().Enabled(tt.level-1))
		})
	}
}

func TestOrFallsBackToGlobal(t *testing.T) {
	prev := Logger
	defer SetLogger(prev)

	global := zap.NewExample()
	SetLogger(global)
	assert.Same(t, global, Or(nil))

	local := zap.NewNop()
	assert.Same(t, local, Or(local))

	SetLogger(nil)
	assert.NotNil(t, Logger)
}
