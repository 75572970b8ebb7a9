package export

import (
	"fmt"
	"time"
)

// RawMessage is one historical message exactly as extracted from a chat
// export. Immutable; the corpus builder is the only consumer.
type RawMessage struct {
	ID        string
	Sender    string
	Timestamp time.Time
	Text      string
	ThreadID  string
	// ThreadName is the human-readable chat title, used for dialog-context
	// classification. May be empty.
	ThreadName string
	// HasMedia marks messages that carried non-text content.
	HasMedia bool
}

// ParseError reports a malformed export. Parsing is all-or-nothing: a
// ParseError means no partial message list was produced.
type ParseError struct {
	Path string
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parsing export %s: line %d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("parsing export %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
