// Package trace records outbound API calls for diagnostics. Writes are
// fire-and-forget: a recorder failure is logged and swallowed, never
// surfaced to the request path.
package trace

import (
	"time"
)

// Record is one logged API call.
type Record struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	Timestamp  time.Time `json:"timestamp"`
	Method     string    `json:"method"`
	Resource   string    `json:"resource"`
	Params     string    `json:"params"` // JSON string
	Result     string    `json:"result"` // JSON string
	Error      string    `json:"error"`
	DurationMS int64     `json:"duration_ms"`
}

// Recorder is the diagnostic sink for API calls.
type Recorder interface {
	Record(method, resource string, params, result any, callErr error, d time.Duration) error
	Calls(limit int) ([]Record, error)
	CallsByResource(resource string, limit int) ([]Record, error)
	Stats() (map[string]any, error)
	Cleanup(maxAge time.Duration) error
	Close() error
	Enabled() bool
}

// Config holds recorder settings.
type Config struct {
	Enabled    bool
	Path       string // sqlite path; ":memory:" keeps records in process
	MaxFileMB  int    // size cap before oldest records are dropped
	RetentionH int    // hours before the sweeper removes records; 0 disables
}

// NoOp is the recorder used when tracing is disabled.
type NoOp struct{}

func (NoOp) Record(method, resource string, params, result any, callErr error, d time.Duration) error {
	return nil
}

func (NoOp) Calls(limit int) ([]Record, error) { return nil, nil }

func (NoOp) CallsByResource(resource string, limit int) ([]Record, error) { return nil, nil }

func (NoOp) Stats() (map[string]any, error) {
	return map[string]any{"trace_enabled": false}, nil
}

func (NoOp) Cleanup(maxAge time.Duration) error { return nil }

func (NoOp) Close() error { return nil }

func (NoOp) Enabled() bool { return false }
