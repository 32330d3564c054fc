package revision

import (
	"reflect"
	"testing"

	"pagewell/engine/internal/store"
)

func TestDiffTags(t *testing.T) {
	tests := []struct {
		name    string
		current []string
		desired []string
		added   []string
		removed []string
	}{
		{
			name:    "add and remove",
			current: []string{"hub", "admin"},
			desired: []string{"hub", "scp"},
			added:   []string{"scp"},
			removed: []string{"admin"},
		},
		{
			name:    "no change",
			current: []string{"hub"},
			desired: []string{"hub"},
		},
		{
			name:    "from empty",
			desired: []string{"b", "a"},
			added:   []string{"a", "b"},
		},
		{
			name:    "to empty",
			current: []string{"a", "b"},
			removed: []string{"a", "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delta := diffTags(tt.current, tt.desired)
			if !sameTags(delta.Added, tt.added) {
				t.Errorf("added = %v, want %v", delta.Added, tt.added)
			}
			if !sameTags(delta.Removed, tt.removed) {
				t.Errorf("removed = %v, want %v", delta.Removed, tt.removed)
			}
		})
	}
}

func TestDiffTagsSidesAreDisjoint(t *testing.T) {
	delta := diffTags([]string{"a", "b", "c"}, []string{"b", "c", "d"})
	for _, added := range delta.Added {
		for _, removed := range delta.Removed {
			if added == removed {
				t.Fatalf("tag %q on both sides of the delta", added)
			}
		}
	}
}

func TestFoldMatchesIncrementalDeltas(t *testing.T) {
	// Replaying the deltas of a tag edit sequence must land on the final set.
	sets := [][]string{
		{"hub"},
		{"hub", "admin"},
		{"admin", "scp"},
		{"scp"},
	}

	var deltas []store.TagDelta
	current := []string{}
	for _, desired := range sets {
		delta := diffTags(current, desired)
		deltas = append(deltas, delta)
		current = desired
	}

	folded := store.FoldTagDeltas(nil, deltas)
	if !reflect.DeepEqual(folded, []string{"scp"}) {
		t.Fatalf("folded = %v, want [scp]", folded)
	}
}

func sameTags(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
