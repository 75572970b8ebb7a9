package styleprofile

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/avolkov/personaclone/internal/corpus"
)

// Feature is one named, normalized style score in [0,1].
type Feature struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Feature names, in vector order. Latency is derived from timestamps and
// has no counterpart in generated text, so Score ignores it.
const (
	FeatureMeanLength       = "mean_utterance_length"
	FeatureLexicalDiversity = "lexical_diversity"
	FeaturePunctuation      = "punctuation_frequency"
	FeatureEmoji            = "emoji_frequency"
	FeatureQuestion         = "question_ratio"
	FeatureExclamation      = "exclamation_ratio"
	FeatureUppercase        = "uppercase_ratio"
	FeatureLatency          = "response_latency"
)

// Profile is the quantitative style signature of one user's corpus.
type Profile struct {
	UserID      string    `json:"user_id"`
	Vector      []Feature `json:"vector"`
	SampleCount int       `json:"sample_count"`
	BuiltAt     time.Time `json:"built_at"`
	// Insufficient marks a profile built from fewer samples than the
	// configured minimum; training refuses such profiles.
	Insufficient bool `json:"insufficient"`

	// Descriptive extras surfaced in the style report.
	TopWords         []string                     `json:"top_words,omitempty"`
	TypeDistribution map[corpus.MessageType]int   `json:"type_distribution,omitempty"`
	ContextStats     map[corpus.DialogContext]int `json:"context_stats,omitempty"`
}

// Profiler computes style profiles and scores candidate text against them.
// It is a pure function of corpus and configuration: no external state.
type Profiler struct {
	minSamples int
}

// NewProfiler creates a Profiler that marks profiles with fewer than
// minSamples utterances as insufficient.
func NewProfiler(minSamples int) *Profiler {
	return &Profiler{minSamples: minSamples}
}

// Build computes the style profile of the given corpus.
func (p *Profiler) Build(c *corpus.Corpus) *Profile {
	texts := make([]string, 0, len(c.Utterances))
	var latencies []float64
	typeDist := map[corpus.MessageType]int{}

	for _, u := range c.Utterances {
		texts = append(texts, u.Text)
		if u.LatencySeconds >= 0 {
			latencies = append(latencies, u.LatencySeconds)
		}
		typeDist[u.MessageType]++
	}

	vector := textFeatures(texts)
	vector = append(vector, Feature{Name: FeatureLatency, Score: latencyScore(latencies)})

	return &Profile{
		UserID:           c.UserID,
		Vector:           vector,
		SampleCount:      len(c.Utterances),
		BuiltAt:          time.Now().UTC(),
		Insufficient:     len(c.Utterances) < p.minSamples,
		TopWords:         topWords(texts, 10),
		TypeDistribution: typeDist,
		ContextStats:     c.ContextStats,
	}
}

// Score returns the bounded style similarity in [0,1] between candidate
// text and the profile: 1 means indistinguishable feature-wise, 0 maximal
// drift. Only text-derived features participate.
func (p *Profile) Score(candidate string) float64 {
	if strings.TrimSpace(candidate) == "" {
		return 0
	}

	candVec := textFeatures([]string{candidate})
	stored := map[string]float64{}
	for _, f := range p.Vector {
		stored[f.Name] = f.Score
	}

	var total float64
	n := 0
	for _, f := range candVec {
		ref, ok := stored[f.Name]
		if !ok {
			continue
		}
		total += math.Abs(f.Score - ref)
		n++
	}
	if n == 0 {
		return 0
	}

	sim := 1 - total/float64(n)
	if sim < 0 {
		return 0
	}
	return sim
}

// Feature returns the named feature score, or 0 if absent.
func (p *Profile) Feature(name string) float64 {
	for _, f := range p.Vector {
		if f.Name == name {
			return f.Score
		}
	}
	return 0
}

// Marshal returns the profile's JSON encoding.
func (p *Profile) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding profile: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a profile previously written by Marshal.
func Unmarshal(data []byte) (*Profile, error) {
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decoding profile: %w", err)
	}
	return &p, nil
}

// textFeatures computes the text-derived feature vector over utterances.
func textFeatures(texts []string) []Feature {
	var (
		totalWords   int
		uniqueWords  = map[string]struct{}{}
		totalRunes   int
		punctRunes   int
		upperRunes   int
		letterRunes  int
		emojiCount   int
		questions    int
		exclamations int
	)

	for _, text := range texts {
		words := strings.Fields(strings.ToLower(text))
		totalWords += len(words)
		for _, w := range words {
			uniqueWords[strings.Trim(w, ".,!?;:\"'")] = struct{}{}
		}

		hasEmoji := false
		for _, r := range text {
			totalRunes++
			if unicode.IsPunct(r) {
				punctRunes++
			}
			if unicode.IsLetter(r) {
				letterRunes++
				if unicode.IsUpper(r) {
					upperRunes++
				}
			}
			if r >= 0x1F300 && r <= 0x1FAFF || r >= 0x2600 && r <= 0x27BF {
				hasEmoji = true
			}
		}
		if hasEmoji {
			emojiCount++
		}
		trimmed := strings.TrimSpace(text)
		if strings.HasSuffix(trimmed, "?") {
			questions++
		}
		if strings.HasSuffix(trimmed, "!") {
			exclamations++
		}
	}

	n := float64(len(texts))
	if n == 0 {
		n = 1
	}

	meanLen := float64(totalWords) / n
	diversity := 0.0
	if totalWords > 0 {
		diversity = float64(len(uniqueWords)) / float64(totalWords)
	}
	punct := 0.0
	if totalRunes > 0 {
		punct = float64(punctRunes) / float64(totalRunes)
	}
	upper := 0.0
	if letterRunes > 0 {
		upper = float64(upperRunes) / float64(letterRunes)
	}

	return []Feature{
		{Name: FeatureMeanLength, Score: clamp(meanLen / 30)},
		{Name: FeatureLexicalDiversity, Score: clamp(diversity)},
		{Name: FeaturePunctuation, Score: clamp(punct * 10)},
		{Name: FeatureEmoji, Score: clamp(float64(emojiCount) / n)},
		{Name: FeatureQuestion, Score: clamp(float64(questions) / n)},
		{Name: FeatureExclamation, Score: clamp(float64(exclamations) / n)},
		{Name: FeatureUppercase, Score: clamp(upper * 5)},
	}
}

// latencyScore maps the median response latency onto [0,1] with a log
// scale: ~1s fast replies near 0, day-long gaps near 1.
func latencyScore(latencies []float64) float64 {
	if len(latencies) == 0 {
		return 0
	}
	sort.Float64s(latencies)
	median := latencies[len(latencies)/2]
	if median < 1 {
		median = 1
	}
	// log10 scale: 1s -> 0, ~28h -> 1.
	return clamp(math.Log10(median) / 5)
}

// stopWords are excluded from the frequent-word list.
var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "you": {}, "that": {}, "this": {},
	"with": {}, "are": {}, "was": {}, "but": {}, "not": {}, "have": {},
	"just": {}, "what": {}, "your": {}, "all": {}, "can": {}, "get": {},
}

// topWords returns the k most frequent non-stop words of length >= 3.
func topWords(texts []string, k int) []string {
	counts := map[string]int{}
	for _, text := range texts {
		for _, w := range strings.Fields(strings.ToLower(text)) {
			w = strings.Trim(w, ".,!?;:\"'()")
			if len([]rune(w)) < 3 {
				continue
			}
			if _, stop := stopWords[w]; stop {
				continue
			}
			counts[w]++
		}
	}

	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})

	if len(words) > k {
		words = words[:k]
	}
	return words
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
