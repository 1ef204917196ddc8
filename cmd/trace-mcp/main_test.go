package main

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctagard/trace-mcp/internal/logging"
	"github.com/ctagard/trace-mcp/internal/metrics"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestServeMetrics_ShutdownIsNotAnError(t *testing.T) {
	var out syncBuffer
	srv, done := serveMetrics("127.0.0.1:0", metrics.New(), logging.New(&out, zerolog.DebugLevel))

	require.NoError(t, srv.Shutdown(context.Background()))
	<-done

	assert.NotContains(t, out.String(), "metrics endpoint stopped")
}

func TestLoadConfig_FlagsOverrideDefaults(t *testing.T) {
	flags := rootCmd.Flags()
	t.Cleanup(func() {
		for _, name := range []string{"max-depth", "trace-dir"} {
			f := flags.Lookup(name)
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		}
	})

	require.NoError(t, flags.Set("max-depth", "5"))
	require.NoError(t, flags.Set("trace-dir", t.TempDir()))

	cfg, err := loadConfig(rootCmd)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.MaxDepth)
	assert.Equal(t, traceDir, cfg.TraceDir)
	assert.Equal(t, 4096, cfg.MaxDynamicLength, "unset flags keep the default")
}
