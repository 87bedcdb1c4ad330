// Package subject defines the identity types shared by the storage and
// iteration layers.
package subject

// ID identifies a subject within one mechanism. IDs are never reused.
type ID uint32

// None is the null subject ID. Slots holding None are empty.
const None ID = 0

// Handle is a generation-checked reference to a subject. A handle goes dead
// when its subject is despawned; a dead handle never resolves to a live
// subject even if the mechanism assigns new IDs.
type Handle struct {
	ID         ID
	Generation uint32
}

// IsValid reports whether the handle points at some subject slot at all.
// It does not check liveness; the owning mechanism does.
func (h Handle) IsValid() bool {
	return h.ID != None
}

// Subjective is the optional per-subject collaborator object. The engine
// never constructs subjectives; it only notifies them of belt slot moves
// during compaction.
type Subjective interface {
	// TakeBeltSlot informs the subjective of its new belt placement.
	// A negative index means the subjective no longer occupies a belt slot.
	TakeBeltSlot(beltTag uint32, index int)
}
