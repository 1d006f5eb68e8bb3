package recurrence

import (
	"testing"
	"time"
)

func BenchmarkEngineExpand(b *testing.B) {
	engine := NewEngine(nil, 0)
	baseStart := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	baseEnd := baseStart.Add(90 * time.Minute)
	until := baseStart.AddDate(1, 0, 0)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		exp, err := engine.Expand(baseStart, baseEnd, RuleDaily, &until)
		if err != nil {
			b.Fatalf("unexpected error: %v", err)
		}
		if len(exp.Occurrences) == 0 {
			b.Fatal("expected occurrences to be generated")
		}
	}
}
