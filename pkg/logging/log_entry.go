package logging

// LogEntry represents a structured log record with fields relevant to
// episodic batch processing.
type LogEntry struct {
	// Standard fields
	Time     int64
	Severity Severity
	Message  string
	File     string
	Line     int
	Function string

	// Episodic fields
	EpisodeID string // The episode being processed, if any
	BatchID   string // The curriculum/autofix batch run, if any
	Latency   int64  // Operation duration in milliseconds

	// General structured data
	Fields map[string]interface{}
}
