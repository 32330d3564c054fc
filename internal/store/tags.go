package store

import (
	"context"
	"sort"
)

// FoldTagDeltas replays tag deltas in revision order over an initial set and
// returns the resulting tags, sorted. Removing an absent tag and re-adding a
// present one are both no-ops, matching how the deltas were computed.
func FoldTagDeltas(initial []string, deltas []TagDelta) []string {
	set := make(map[string]struct{}, len(initial))
	for _, tag := range initial {
		set[tag] = struct{}{}
	}
	for _, delta := range deltas {
		for _, tag := range delta.Added {
			set[tag] = struct{}{}
		}
		for _, tag := range delta.Removed {
			delete(set, tag)
		}
	}

	folded := make([]string, 0, len(set))
	for tag := range set {
		folded = append(folded, tag)
	}
	sort.Strings(folded)
	return folded
}

// RebuildTagProjection recomputes a page's materialized tag set from its
// tag_history log and writes it back. The log is the source of truth; the
// column on pages is only a cache of this fold.
func (s *PostgresStore) RebuildTagProjection(ctx context.Context, pageID int64) ([]string, error) {
	deltas, err := s.ListTagDeltas(ctx, pageID)
	if err != nil {
		return nil, err
	}
	folded := FoldTagDeltas(nil, deltas)
	if err := s.SetPageTags(ctx, pageID, folded); err != nil {
		return nil, err
	}
	return folded, nil
}
