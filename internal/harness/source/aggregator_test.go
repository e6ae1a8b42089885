package source

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeNDJSON(t *testing.T, lines []RecordedCallback) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trace.ndjson")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	for _, cb := range lines {
		b, err := json.Marshal(cb)
		require.NoError(t, err)
		_, err = f.Write(append(b, '\n'))
		require.NoError(t, err)
	}
	return path
}

// A finite file source should drain fully and the aggregator's output
// channel should close on its own, without a caller ever invoking Stop.
func TestAggregatorClosesOutputWhenSourcesFinish(t *testing.T) {
	path := writeNDJSON(t, []RecordedCallback{
		{Kind: CallbackTimer},
		{Kind: CallbackTimer},
	})
	src := NewFileSourceWithOptions("trace", &FileOptions{Path: path}, nil)
	agg := NewAggregator([]CallbackSource{src}, 10, nil)

	require.NoError(t, agg.Start(context.Background()))

	count := 0
	timeout := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-agg.Callbacks():
			if !ok {
				assert.Equal(t, 2, count)
				return
			}
			count++
		case <-timeout:
			t.Fatal("aggregator output channel never closed")
		}
	}
}

func TestAggregatorStopStopsAllSources(t *testing.T) {
	src := NewFileSourceWithOptions("blocked", &FileOptions{Path: os.DevNull}, nil)
	agg := NewAggregator([]CallbackSource{src}, 10, nil)
	require.NoError(t, agg.Start(context.Background()))
	require.NoError(t, agg.Stop())

	_, ok := <-agg.Callbacks()
	assert.False(t, ok)
}
