package singleton

import "context"

type ownerKey struct{}

// construction identifies one construction attempt. Attempts nest through the
// context handed to build functions and hooks, so a call chain knows which
// slots it currently owns the lock of.
type construction struct {
	slot   *Slot
	parent *construction
}

func withConstruction(ctx context.Context, attempt *construction) context.Context {
	attempt.parent, _ = ctx.Value(ownerKey{}).(*construction)
	return context.WithValue(ctx, ownerKey{}, attempt)
}

func ownsConstruction(ctx context.Context, attempt *construction) bool {
	if attempt == nil {
		return false
	}

	for c, _ := ctx.Value(ownerKey{}).(*construction); c != nil; c = c.parent {
		if c == attempt {
			return true
		}
	}
	return false
}

// Constructing reports the slots the calling chain is constructing, innermost
// first.
func Constructing(ctx context.Context) []*Slot {
	var slots []*Slot
	for c, _ := ctx.Value(ownerKey{}).(*construction); c != nil; c = c.parent {
		slots = append(slots, c.slot)
	}
	return slots
}
