package engine

import (
	"bytes"
	"context"
	"fmt"
	"testing"
)

func testExamples(n int) []Example {
	var out []Example
	phrases := []string{
		"ok sounds good",
		"see you there",
		"on my way now",
		"that works for me",
		"let me check and get back",
	}
	for i := 0; i < n; i++ {
		out = append(out, Example{
			Context: "what do you think",
			Target:  phrases[i%len(phrases)],
		})
	}
	return out
}

func TestStepLossDecreases(t *testing.T) {
	m := New(testExamples(50), 7)

	first, err := m.Step()
	if err != nil {
		t.Fatalf("Step: %v", err)
	}

	var last StepMetrics
	for i := 0; i < 30; i++ {
		last, err = m.Step()
		if err != nil {
			t.Fatalf("Step: %v", err)
		}
	}

	if last.Loss >= first.Loss {
		t.Errorf("loss did not decrease: first %v, after training %v", first.Loss, last.Loss)
	}
}

func TestSnapshotRestoreReproducesTrajectory(t *testing.T) {
	examples := testExamples(50)

	// Uninterrupted run: 10 steps, record metrics of steps 6..10.
	ref := New(examples, 42)
	for i := 0; i < 5; i++ {
		if _, err := ref.Step(); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}
	snap, err := ref.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	var want []StepMetrics
	for i := 0; i < 5; i++ {
		sm, err := ref.Step()
		if err != nil {
			t.Fatalf("Step: %v", err)
		}
		want = append(want, sm)
	}

	// Resumed run from the checkpoint.
	resumed := New(examples, 42)
	if err := resumed.Restore(snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	for i, w := range want {
		sm, err := resumed.Step()
		if err != nil {
			t.Fatalf("Step: %v", err)
		}
		if sm.Step != w.Step || sm.Loss != w.Loss || sm.ValLoss != w.ValLoss {
			t.Errorf("resumed step %d = %+v, want %+v", i, sm, w)
		}
	}
}

func TestSnapshotDeterministic(t *testing.T) {
	run := func() []byte {
		m := New(testExamples(30), 3)
		for i := 0; i < 8; i++ {
			if _, err := m.Step(); err != nil {
				t.Fatalf("Step: %v", err)
			}
		}
		snap, err := m.Snapshot()
		if err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		return snap
	}

	if !bytes.Equal(run(), run()) {
		t.Error("identical training runs must produce identical checkpoint bytes")
	}
}

func TestGenerateDeterministic(t *testing.T) {
	m := New(testExamples(50), 9)
	for i := 0; i < 20; i++ {
		if _, err := m.Step(); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}

	ctx := context.Background()
	params := SamplingParams{Seed: 11}

	a, err := m.Generate(ctx, "what do you think", params)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	b, err := m.Generate(ctx, "what do you think", params)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if a == "" {
		t.Error("trained model generated empty text")
	}
	if a != b {
		t.Errorf("same seed produced different texts: %q vs %q", a, b)
	}
}

func TestGenerateHonorsMaxWords(t *testing.T) {
	m := New(testExamples(50), 5)
	for i := 0; i < 20; i++ {
		if _, err := m.Step(); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}

	out, err := m.Generate(context.Background(), "hello", SamplingParams{MaxWords: 3, Seed: 2})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if n := len(splitWords(out)); n > 3 {
		t.Errorf("generated %d words, want <= 3", n)
	}
}

func TestGenerateCancelled(t *testing.T) {
	m := New(testExamples(50), 5)
	for i := 0; i < 5; i++ {
		if _, err := m.Step(); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Generate(ctx, "hello", SamplingParams{})
	if err == nil {
		t.Error("expected error from cancelled context")
	}
}

func TestStepNoExamples(t *testing.T) {
	m := New(nil, 1)
	if _, err := m.Step(); err == nil {
		t.Error("expected error when training without examples")
	}
}

func splitWords(s string) []string {
	var out []string
	for _, w := range bytes.Fields([]byte(s)) {
		out = append(out, string(w))
	}
	return out
}

func BenchmarkStep(b *testing.B) {
	var examples []Example
	for i := 0; i < 200; i++ {
		examples = append(examples, Example{Target: fmt.Sprintf("message %d with some shared words", i)})
	}
	m := New(examples, 1)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := m.Step(); err != nil {
			b.Fatal(err)
		}
	}
}
