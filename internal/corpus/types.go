package corpus

import (
	"fmt"
	"time"
)

// DialogContext classifies the conversational setting of a thread.
type DialogContext string

const (
	ContextProfessional DialogContext = "professional"
	ContextFamily       DialogContext = "family"
	ContextRomantic     DialogContext = "romantic"
	ContextFriendly     DialogContext = "friendly"
	ContextCreative     DialogContext = "creative"
	ContextGeneral      DialogContext = "general"
)

// MessageType is a coarse classification of an utterance's shape.
type MessageType string

const (
	TypeQuestion    MessageType = "question"
	TypeExclamation MessageType = "exclamation"
	TypeShort       MessageType = "short"
	TypeLong        MessageType = "long"
	TypeEmoji       MessageType = "with_emoji"
	TypeNormal      MessageType = "normal"
)

// CleanedUtterance is one cleaned, possibly merged, utterance authored by
// the target user. Created once per corpus build and never mutated.
type CleanedUtterance struct {
	// SourceMessageIDs are the raw message ids merged into this utterance.
	SourceMessageIDs []string      `json:"source_message_ids"`
	Text             string        `json:"text"`
	TurnIndex        int           `json:"turn_index"`
	ThreadID         string        `json:"thread_id"`
	Timestamp        time.Time     `json:"timestamp"`
	Context          DialogContext `json:"context"`
	MessageType      MessageType   `json:"message_type"`
	// LatencySeconds is the gap between the preceding counterpart message
	// and this reply. Negative when there was no preceding message.
	LatencySeconds float64 `json:"latency_seconds"`
}

// TrainingExample is a supervised (context, target) pair. The context is
// the preceding cleaned dialog, newest last, bounded by configuration.
type TrainingExample struct {
	Context       []string      `json:"context"`
	Target        string        `json:"target"`
	DialogContext DialogContext `json:"dialog_context"`
}

// Corpus is the cleaned, deduplicated output of one builder run. Its JSON
// encoding is deterministic: rebuilding from an unchanged export yields a
// byte-identical file.
type Corpus struct {
	UserID     string             `json:"user_id"`
	Utterances []CleanedUtterance `json:"utterances"`
	Examples   []TrainingExample  `json:"examples"`
	// Rejected counts messages dropped during cleaning (empty, media-only,
	// near-duplicate, foreign-sender merges do not count).
	Rejected int `json:"rejected"`
	// ContextStats counts authored utterances per dialog context.
	ContextStats map[DialogContext]int `json:"context_stats"`
}

// InsufficientDataError reports that the export contained too few authored
// utterances to train on. Fatal to clone and train.
type InsufficientDataError struct {
	Have int
	Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient corpus: %d authored utterances, need at least %d", e.Have, e.Need)
}
