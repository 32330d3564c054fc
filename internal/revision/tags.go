package revision

import (
	"sort"

	"pagewell/engine/internal/store"
)

// diffTags computes the delta that turns current into desired. Both sides of
// the result are sorted and disjoint, which the tag_history check constraint
// also requires.
func diffTags(current, desired []string) store.TagDelta {
	currentSet := make(map[string]struct{}, len(current))
	for _, tag := range current {
		currentSet[tag] = struct{}{}
	}
	desiredSet := make(map[string]struct{}, len(desired))
	for _, tag := range desired {
		desiredSet[tag] = struct{}{}
	}

	var delta store.TagDelta
	for tag := range desiredSet {
		if _, ok := currentSet[tag]; !ok {
			delta.Added = append(delta.Added, tag)
		}
	}
	for tag := range currentSet {
		if _, ok := desiredSet[tag]; !ok {
			delta.Removed = append(delta.Removed, tag)
		}
	}
	sort.Strings(delta.Added)
	sort.Strings(delta.Removed)
	return delta
}

func normalizeTags(tags []string) []string {
	set := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		set[tag] = struct{}{}
	}
	normalized := make([]string, 0, len(set))
	for tag := range set {
		normalized = append(normalized, tag)
	}
	sort.Strings(normalized)
	return normalized
}
