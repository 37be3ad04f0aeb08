package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestDocument_SourceID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "wiki", Document{ID: "1", Source: " wiki "}.SourceID())
	assert.Equal(t, "recipes:7", Document{ID: "7", SourceTable: "recipes"}.SourceID())
	assert.Equal(t, "9", Document{ID: "9"}.SourceID())
}

func TestDocument_WithRerankScoreCopies(t *testing.T) {
	t.Parallel()

	d := Document{ID: "a"}
	d2 := d.WithRerankScore(0.7)
	assert.Nil(t, d.RerankScore)
	assert.InDelta(t, 0.7, *d2.RerankScore, 1e-9)
}

func TestDedupSources_FirstSeenOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ids := rapid.SliceOf(rapid.SampledFrom([]string{"a", "b", "c", "d", ""})).Draw(t, "ids")
		docs := make([]Document, len(ids))
		for i, id := range ids {
			docs[i] = Document{ID: id}
		}
		got := DedupSources(docs)

		var want []string
		seen := map[string]bool{}
		for _, id := range ids {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			want = append(want, id)
		}
		if len(got) != len(want) {
			t.Fatalf("len mismatch: %v vs %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("order mismatch at %d: %v vs %v", i, got, want)
			}
		}
	})
}
