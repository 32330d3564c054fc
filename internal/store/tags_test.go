package store

import (
	"reflect"
	"testing"
)

func TestFoldTagDeltas(t *testing.T) {
	tests := []struct {
		name    string
		initial []string
		deltas  []TagDelta
		want    []string
	}{
		{
			name: "empty history",
			want: []string{},
		},
		{
			name: "single add",
			deltas: []TagDelta{
				{Added: []string{"hub", "admin"}},
			},
			want: []string{"admin", "hub"},
		},
		{
			name: "add then remove",
			deltas: []TagDelta{
				{Added: []string{"hub", "admin"}},
				{Added: []string{"scp"}, Removed: []string{"admin"}},
			},
			want: []string{"hub", "scp"},
		},
		{
			name: "remove absent tag is a no-op",
			deltas: []TagDelta{
				{Added: []string{"hub"}},
				{Removed: []string{"ghost"}},
			},
			want: []string{"hub"},
		},
		{
			name:    "initial set folds through",
			initial: []string{"hub"},
			deltas: []TagDelta{
				{Removed: []string{"hub"}},
				{Added: []string{"hub"}},
			},
			want: []string{"hub"},
		},
		{
			name: "result is sorted",
			deltas: []TagDelta{
				{Added: []string{"zulu", "alpha", "mike"}},
			},
			want: []string{"alpha", "mike", "zulu"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FoldTagDeltas(tt.initial, tt.deltas)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("FoldTagDeltas = %v, want %v", got, tt.want)
			}
		})
	}
}
