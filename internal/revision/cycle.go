package revision

import (
	"context"
	"fmt"
)

// Ancestry is the slice of the metadata store a cycle check may consult.
type Ancestry interface {
	AncestorIDs(ctx context.Context, pageID int64) ([]int64, error)
}

// CycleCheck validates a prospective parent link before it is written.
type CycleCheck func(ctx context.Context, ancestry Ancestry, pageID, parentPageID int64) error

// SelfReferenceCheck rejects only a page parenting itself. Longer cycles are
// permitted; page families in the wild do contain them and render fine.
func SelfReferenceCheck(_ context.Context, _ Ancestry, pageID, parentPageID int64) error {
	if pageID == parentPageID {
		return fmt.Errorf("page %d: %w", pageID, ErrParentCycle)
	}
	return nil
}

// AncestryCheck walks the parent graph and rejects any link that would make
// a page its own ancestor.
func AncestryCheck(ctx context.Context, ancestry Ancestry, pageID, parentPageID int64) error {
	if pageID == parentPageID {
		return fmt.Errorf("page %d: %w", pageID, ErrParentCycle)
	}
	ancestors, err := ancestry.AncestorIDs(ctx, parentPageID)
	if err != nil {
		return err
	}
	for _, id := range ancestors {
		if id == pageID {
			return fmt.Errorf("page %d is an ancestor of %d: %w", pageID, parentPageID, ErrParentCycle)
		}
	}
	return nil
}

// CycleCheckByName resolves the configured cycle policy.
func CycleCheckByName(name string) (CycleCheck, error) {
	switch name {
	case "self", "":
		return SelfReferenceCheck, nil
	case "ancestry":
		return AncestryCheck, nil
	default:
		return nil, fmt.Errorf("unknown cycle policy %q", name)
	}
}
