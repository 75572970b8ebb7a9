package corpus

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/avolkov/personaclone/internal/config"
	"github.com/avolkov/personaclone/internal/export"
)

// Builder turns raw export messages into a cleaned, deduplicated corpus of
// utterances authored by the target user. A Builder is stateless between
// runs: the same messages and configuration always produce the same corpus.
type Builder struct {
	cfg config.CorpusConfig
}

// NewBuilder creates a Builder with the given corpus configuration.
func NewBuilder(cfg config.CorpusConfig) *Builder {
	return &Builder{cfg: cfg}
}

// mergedMessage is an intermediate utterance: consecutive same-sender raw
// messages within the merge gap collapsed into one.
type mergedMessage struct {
	sourceIDs []string
	sender    string
	text      string
	timestamp time.Time // timestamp of the first merged message
	lastTS    time.Time // timestamp of the last merged message
	threadID  string
	latency   float64
}

// Build cleans the given messages and returns the corpus for userID.
// Messages must already be ordered by (thread, timestamp); export.ParseFiles
// guarantees that.
func (b *Builder) Build(userID string, msgs []export.RawMessage) (*Corpus, error) {
	c := &Corpus{
		UserID:       userID,
		ContextStats: map[DialogContext]int{},
	}

	// Partition by thread, preserving thread order.
	var threadOrder []string
	threads := map[string][]export.RawMessage{}
	threadNames := map[string]string{}
	for _, m := range msgs {
		if _, ok := threads[m.ThreadID]; !ok {
			threadOrder = append(threadOrder, m.ThreadID)
		}
		threads[m.ThreadID] = append(threads[m.ThreadID], m)
		if m.ThreadName != "" {
			threadNames[m.ThreadID] = m.ThreadName
		}
	}

	turnIndex := 0
	seen := map[string]time.Time{} // normalized-text hash -> last kept timestamp

	for _, threadID := range threadOrder {
		merged, rejected := b.mergeThread(threads[threadID])
		c.Rejected += rejected

		threadCtx := ClassifyThread(threadNames[threadID], merged)

		// Dialog stream for training-example context, both senders.
		var stream []mergedMessage

		for _, m := range merged {
			stream = append(stream, m)
			if m.sender != userID {
				continue
			}

			// Near-duplicate drop within the sliding window.
			h := TextHash(m.text)
			if last, ok := seen[h]; ok && b.cfg.DedupeWindow > 0 &&
				m.timestamp.Sub(last) < b.cfg.DedupeWindow {
				c.Rejected++
				continue
			}
			seen[h] = m.timestamp

			ctx := threadCtx
			if ctx == ContextGeneral {
				ctx = ClassifyText(m.text)
			}

			u := CleanedUtterance{
				SourceMessageIDs: m.sourceIDs,
				Text:             m.text,
				TurnIndex:        turnIndex,
				ThreadID:         threadID,
				Timestamp:        m.timestamp,
				Context:          ctx,
				MessageType:      ClassifyMessageType(m.text),
				LatencySeconds:   m.latency,
			}
			turnIndex++

			c.Utterances = append(c.Utterances, u)
			c.ContextStats[ctx]++

			if ex, ok := b.buildExample(stream, u); ok {
				c.Examples = append(c.Examples, ex)
			}
		}
	}

	if len(c.Utterances) < b.cfg.MinCorpusSize {
		return nil, &InsufficientDataError{Have: len(c.Utterances), Need: b.cfg.MinCorpusSize}
	}

	return c, nil
}

// mergeThread collapses consecutive same-sender messages within the merge
// gap and normalizes text. Returns merged utterances plus the number of
// messages rejected as empty after cleaning.
func (b *Builder) mergeThread(msgs []export.RawMessage) ([]mergedMessage, int) {
	var out []mergedMessage
	rejected := 0

	var lastSenderTime = map[string]time.Time{}

	for _, m := range msgs {
		text := Normalize(m.Text)
		if text == "" {
			rejected++
			continue
		}

		if n := len(out); n > 0 {
			prev := &out[n-1]
			if prev.sender == m.Sender && m.Timestamp.Sub(prev.lastTS) <= b.cfg.MergeGap {
				prev.text = prev.text + "\n" + text
				prev.sourceIDs = append(prev.sourceIDs, m.ID)
				prev.lastTS = m.Timestamp
				lastSenderTime[m.Sender] = m.Timestamp
				continue
			}
		}

		latency := -1.0
		for sender, ts := range lastSenderTime {
			if sender != m.Sender {
				if gap := m.Timestamp.Sub(ts).Seconds(); latency < 0 || gap < latency {
					latency = gap
				}
			}
		}

		out = append(out, mergedMessage{
			sourceIDs: []string{m.ID},
			sender:    m.Sender,
			text:      text,
			timestamp: m.Timestamp,
			lastTS:    m.Timestamp,
			threadID:  m.ThreadID,
			latency:   latency,
		})
		lastSenderTime[m.Sender] = m.Timestamp
	}

	return out, rejected
}

// buildExample produces the supervised pair ending at target. The context
// is the preceding dialog, newest last, bounded by MaxContextMessages; an
// utterance with no preceding dialog yields no example.
func (b *Builder) buildExample(stream []mergedMessage, target CleanedUtterance) (TrainingExample, bool) {
	// The last stream entry is the target itself.
	preceding := stream[:len(stream)-1]
	if len(preceding) == 0 || b.cfg.MaxContextMessages == 0 {
		return TrainingExample{}, false
	}

	start := len(preceding) - b.cfg.MaxContextMessages
	if start < 0 {
		start = 0
	}

	var ctx []string
	for _, m := range preceding[start:] {
		ctx = append(ctx, m.text)
	}

	return TrainingExample{
		Context:       ctx,
		Target:        target.Text,
		DialogContext: target.Context,
	}, true
}

var whitespaceRE = regexp.MustCompile(`[ \t\r\f\v]+`)

// Normalize canonicalizes utterance text: Unicode NFC, control characters
// stripped, runs of spaces collapsed, surrounding whitespace trimmed.
func Normalize(text string) string {
	text = norm.NFC.String(text)

	text = strings.Map(func(r rune) rune {
		if r == '\n' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(whitespaceRE.ReplaceAllString(line, " "))
	}

	// Drop blank lines left over from stripping.
	var kept []string
	for _, line := range lines {
		if line != "" {
			kept = append(kept, line)
		}
	}

	return strings.Join(kept, "\n")
}

// TextHash returns the dedupe hash of normalized text.
func TextHash(text string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(text)))
	return hex.EncodeToString(sum[:8])
}
