package styleprofile

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/avolkov/personaclone/internal/config"
	"github.com/avolkov/personaclone/internal/corpus"
	"github.com/avolkov/personaclone/internal/export"
)

func buildTestCorpus(t *testing.T, texts []string) *corpus.Corpus {
	t.Helper()

	t0 := time.Date(2023, 4, 1, 9, 0, 0, 0, time.UTC)
	var msgs []export.RawMessage
	for i, text := range texts {
		msgs = append(msgs, export.RawMessage{
			ID:        fmt.Sprintf("%d", i),
			Sender:    "alice",
			Text:      text,
			ThreadID:  "t1",
			Timestamp: t0.Add(time.Duration(i) * time.Hour),
		})
	}

	b := corpus.NewBuilder(config.CorpusConfig{
		MinCorpusSize:      1,
		MergeGap:           time.Minute,
		DedupeWindow:       time.Minute,
		MaxContextMessages: 3,
	})
	c, err := b.Build("alice", msgs)
	if err != nil {
		t.Fatalf("building test corpus: %v", err)
	}
	return c
}

func TestBuildProfileFeatures(t *testing.T) {
	c := buildTestCorpus(t, []string{
		"hey, how are you doing today?",
		"pretty good! working on the project",
		"sounds great 😊",
		"let me know when you are free",
	})

	p := NewProfiler(1).Build(c)

	if p.SampleCount != 4 {
		t.Errorf("SampleCount = %d, want 4", p.SampleCount)
	}
	if p.Insufficient {
		t.Error("profile should not be insufficient with min 1")
	}
	if len(p.Vector) != 8 {
		t.Fatalf("vector length = %d, want 8", len(p.Vector))
	}
	for _, f := range p.Vector {
		if f.Score < 0 || f.Score > 1 {
			t.Errorf("feature %s = %v, out of [0,1]", f.Name, f.Score)
		}
	}
	if p.Feature(FeatureQuestion) != 0.25 {
		t.Errorf("question ratio = %v, want 0.25", p.Feature(FeatureQuestion))
	}
	if p.Feature(FeatureEmoji) != 0.25 {
		t.Errorf("emoji frequency = %v, want 0.25", p.Feature(FeatureEmoji))
	}
}

func TestInsufficientProfile(t *testing.T) {
	c := buildTestCorpus(t, []string{"only one message here"})
	p := NewProfiler(50).Build(c)
	if !p.Insufficient {
		t.Error("profile from 1 sample with min 50 must be marked insufficient")
	}
}

func TestScoreBounds(t *testing.T) {
	c := buildTestCorpus(t, []string{
		"short reply", "ok sure", "yes", "sounds good", "on my way",
	})
	p := NewProfiler(1).Build(c)

	candidates := []string{
		"ok",
		"sounds about right",
		strings.Repeat("a very long and unusual candidate with many words ", 10) + "!!!???",
		"",
	}
	for _, cand := range candidates {
		s := p.Score(cand)
		if s < 0 || s > 1 {
			t.Errorf("Score(%.20q) = %v, out of [0,1]", cand, s)
		}
	}

	if p.Score("") != 0 {
		t.Error("empty candidate must score 0")
	}
}

func TestScorePrefersSimilarStyle(t *testing.T) {
	c := buildTestCorpus(t, []string{
		"ok", "sure", "yep", "fine", "cool",
	})
	p := NewProfiler(1).Build(c)

	similar := p.Score("yes")
	dissimilar := p.Score(strings.Repeat("an elaborate and highly verbose response unlike anything in the corpus ", 5) + "?!")

	if similar <= dissimilar {
		t.Errorf("similar style scored %v, dissimilar %v; want similar > dissimilar", similar, dissimilar)
	}
}

func TestProfileMarshalRoundTrip(t *testing.T) {
	c := buildTestCorpus(t, []string{"hello there", "general greeting"})
	p := NewProfiler(1).Build(c)

	data, err := p.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	back, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back.UserID != p.UserID || back.SampleCount != p.SampleCount {
		t.Errorf("round trip lost fields: %+v", back)
	}
	if len(back.Vector) != len(p.Vector) {
		t.Errorf("vector length changed: %d vs %d", len(back.Vector), len(p.Vector))
	}
}

func TestReportContainsSummary(t *testing.T) {
	c := buildTestCorpus(t, []string{"hello there friend", "what a day!"})
	p := NewProfiler(1).Build(c)

	report := p.Report()
	for _, want := range []string{"# Style profile: alice", "## Summary", "## Feature vector"} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q", want)
		}
	}
}
