package watcher

import (
	"time"
)

// Operation is the kind of change seen for a file.
type Operation int

const (
	// OpCreate indicates a new chunk file appeared.
	OpCreate Operation = iota
	// OpModify indicates an existing chunk file was written.
	OpModify
	// OpDelete indicates a chunk file was removed or renamed away.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is a change to one chunk file.
type FileEvent struct {
	// Path is the absolute file path.
	Path string

	Operation Operation

	// Timestamp is when the last raw event for Path was seen.
	Timestamp time.Time
}

// Options configures a Watcher.
type Options struct {
	// Paths are chunk files or directories of chunk files.
	Paths []string

	// Extension selects files inside watched directories. Default: ".jsonl"
	Extension string

	// DebounceWindow is the quiet period before a batch is emitted.
	// Default: 500ms
	DebounceWindow time.Duration

	// EventBufferSize is the capacity of the batch channel. Default: 16
	EventBufferSize int
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		Extension:       ".jsonl",
		DebounceWindow:  500 * time.Millisecond,
		EventBufferSize: 16,
	}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.Extension == "" {
		o.Extension = defaults.Extension
	}
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = defaults.EventBufferSize
	}
	return o
}
