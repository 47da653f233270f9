package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRingCore(t *testing.T) {
	core := NewRingCore(3, zap.InfoLevel)
	log := zap.New(core).Named("bridge")

	log.Debug("filtered")
	for _, msg := range []string{"one", "two", "three", "four"} {
		log.Info(msg)
	}

	lines := strings.Split(strings.TrimSuffix(core.ReadAll(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "INFO  bridge: two")
	assert.Contains(t, lines[2], "four")
	assert.NotContains(t, core.ReadAll(), "filtered")

	assert.Contains(t, <-core.Chan(), "one")
}

func TestRingCore_Fields(t *testing.T) {
	core := NewRingCore(10, zap.DebugLevel)
	log := zap.New(core).With(zap.String("conn", "abcd1234"))

	log.Warn("client closed", zap.Int("queued", 3), zap.String("reason", "eof"))

	out := core.ReadAll()
	assert.Contains(t, out, "WARN  client closed")
	assert.Contains(t, out, "conn=abcd1234 queued=3 reason=eof")
}

func TestRingCore_Empty(t *testing.T) {
	assert.Empty(t, NewRingCore(0, zap.InfoLevel).ReadAll())
}
