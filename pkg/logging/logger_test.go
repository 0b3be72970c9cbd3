package logging

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureOutput collects entries for assertions.
type captureOutput struct {
	mu      sync.Mutex
	entries []LogEntry
}

func (c *captureOutput) Write(e LogEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
	return nil
}

func (c *captureOutput) Sync() error  { return nil }
func (c *captureOutput) Close() error { return nil }

func TestSeverityFiltering(t *testing.T) {
	out := &captureOutput{}
	logger := NewLogger(Config{Severity: WARN, Outputs: []Output{out}})

	ctx := context.Background()
	logger.Debug(ctx, "dropped")
	logger.Info(ctx, "dropped")
	logger.Warn(ctx, "kept")
	logger.Error(ctx, "kept too")

	require.Len(t, out.entries, 2)
	assert.Equal(t, WARN, out.entries[0].Severity)
	assert.Equal(t, ERROR, out.entries[1].Severity)
}

func TestContextPropagation(t *testing.T) {
	out := &captureOutput{}
	logger := NewLogger(Config{Severity: DEBUG, Outputs: []Output{out}})

	ctx := WithEpisodeID(context.Background(), "ep-1")
	ctx = WithBatchID(ctx, "batch-7")
	logger.Info(ctx, "processing")

	require.Len(t, out.entries, 1)
	assert.Equal(t, "ep-1", out.entries[0].EpisodeID)
	assert.Equal(t, "batch-7", out.entries[0].BatchID)
}

func TestDefaultFields(t *testing.T) {
	out := &captureOutput{}
	logger := NewLogger(Config{
		Severity:      DEBUG,
		Outputs:       []Output{out},
		DefaultFields: map[string]interface{}{"component": "store"},
	})

	logger.Info(context.Background(), "opened")

	require.Len(t, out.entries, 1)
	assert.Equal(t, "store", out.entries[0].Fields["component"])
}

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		input    string
		expected Severity
	}{
		{"DEBUG", DEBUG},
		{"INFO", INFO},
		{"WARN", WARN},
		{"ERROR", ERROR},
		{"FATAL", FATAL},
		{"bogus", INFO},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseSeverity(tt.input))
		})
	}
}

func TestGetLoggerSingleton(t *testing.T) {
	l1 := GetLogger()
	l2 := GetLogger()
	assert.Same(t, l1, l2)

	custom := NewLogger(Config{Severity: DEBUG})
	SetLogger(custom)
	defer SetLogger(l1)
	assert.Same(t, custom, GetLogger())
}
