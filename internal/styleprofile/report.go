package styleprofile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/avolkov/personaclone/internal/corpus"
)

// Report renders the profile as a markdown style report, shown by the web
// interface and written next to the corpus by clone.
func (p *Profile) Report() string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Style profile: %s\n\n", p.UserID)
	fmt.Fprintf(&b, "Built %s from %d utterances.\n\n", p.BuiltAt.Format("2006-01-02 15:04 MST"), p.SampleCount)

	if p.Insufficient {
		b.WriteString("> **Warning**: sample count is below the configured minimum; this profile cannot be used for training.\n\n")
	}

	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "- Message length: %s\n", lengthBand(p.Feature(FeatureMeanLength)))
	fmt.Fprintf(&b, "- Emoji usage: %s\n", frequencyBand(p.Feature(FeatureEmoji)))
	fmt.Fprintf(&b, "- Questions: %s\n", frequencyBand(p.Feature(FeatureQuestion)))
	fmt.Fprintf(&b, "- Emotionality: %s\n", emotionBand(p.Feature(FeatureExclamation)))
	b.WriteString("\n")

	b.WriteString("## Feature vector\n\n")
	b.WriteString("| Feature | Score |\n|---|---|\n")
	for _, f := range p.Vector {
		fmt.Fprintf(&b, "| %s | %.3f |\n", f.Name, f.Score)
	}
	b.WriteString("\n")

	if len(p.TopWords) > 0 {
		b.WriteString("## Frequent words\n\n")
		fmt.Fprintf(&b, "%s\n\n", strings.Join(p.TopWords, ", "))
	}

	if len(p.ContextStats) > 0 {
		b.WriteString("## Dialog contexts\n\n")
		contexts := make([]string, 0, len(p.ContextStats))
		for ctx := range p.ContextStats {
			contexts = append(contexts, string(ctx))
		}
		sort.Strings(contexts)
		for _, ctx := range contexts {
			fmt.Fprintf(&b, "- %s: %d utterances\n", ctx, p.ContextStats[corpus.DialogContext(ctx)])
		}
		b.WriteString("\n")
	}

	return b.String()
}

func lengthBand(score float64) string {
	switch {
	case score < 0.2:
		return "short"
	case score < 0.5:
		return "medium"
	default:
		return "long"
	}
}

func frequencyBand(score float64) string {
	switch {
	case score < 0.1:
		return "rare"
	case score < 0.3:
		return "moderate"
	default:
		return "frequent"
	}
}

func emotionBand(score float64) string {
	switch {
	case score < 0.1:
		return "reserved"
	case score < 0.3:
		return "expressive"
	default:
		return "very expressive"
	}
}
