// Package registry assigns dense bit indices to trait types and detail
// classes. A registry is populated once at startup and is read-only
// afterwards, so the rest of the engine reads it without synchronization.
package registry

import (
	"reflect"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"
	"github.com/invopop/jsonschema"
	"github.com/rotisserie/eris"

	"github.com/operatics/machina"
	"github.com/operatics/machina/bitmask"
)

// TraitID is the dense bit index of a registered trait type.
type TraitID int

// DetailID is the dense bit index of a registered detail class.
type DetailID int

// Invalid IDs returned by failed lookups.
const (
	InvalidTraitID  TraitID  = -1
	InvalidDetailID DetailID = -1
)

// Detail is the object form of a component: class-identified, stored by
// reference in belts, matched modulo its class ancestry.
type Detail interface {
	// DetailClass returns the registered class of this detail instance.
	DetailClass() DetailID

	// Enabled reports whether the detail participates in iteration.
	Enabled() bool
}

// TraitInfo describes a registered trait type.
type TraitInfo struct {
	ID   TraitID
	Name string
	Type reflect.Type
	Size int

	// SchemaHash fingerprints the JSON schema of the trait's Go type.
	// The codec uses it to reject payloads whose trait layout drifted.
	SchemaHash uint64

	mask bitmask.Mask
}

// Mask returns the trait's self bit as a mask.
func (i *TraitInfo) Mask() bitmask.Mask { return i.mask }

// DetailInfo describes a registered detail class.
type DetailInfo struct {
	ID     DetailID
	Name   string
	Parent DetailID // InvalidDetailID for base classes

	mask          bitmask.Mask // self + superclasses; inclusion side
	excludingMask bitmask.Mask // self only; exclusion side
}

// Mask returns the class bit plus every superclass bit. This is the mask a
// fingerprint accumulates for a carried detail, and the mask a filter
// demands for an included class: carrying any subclass of C raises C's bit.
func (i *DetailInfo) Mask() bitmask.Mask { return i.mask }

// ExcludingMask returns the class's own bit. Excluding a class rejects
// every subject whose detail mask contains that bit, i.e. the class itself
// and all of its subclasses.
func (i *DetailInfo) ExcludingMask() bitmask.Mask { return i.excludingMask }

// Registry holds the process-stable trait and detail identity assignments.
type Registry struct {
	mu     sync.Mutex
	frozen bool

	traits       []TraitInfo
	traitsByName map[string]TraitID
	traitsByType map[reflect.Type]TraitID

	details       []DetailInfo
	detailsByName map[string]DetailID
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		traitsByName:  map[string]TraitID{},
		traitsByType:  map[reflect.Type]TraitID{},
		detailsByName: map[string]DetailID{},
	}
}

// Freeze ends the registration phase. Further registrations fail with
// ErrInvalidState. A mechanism freezes its registry on construction.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// RegisterTrait registers the value type T under the given name and returns
// its dense bit index. Registration order determines bit assignment, so it
// must be deterministic per process.
func RegisterTrait[T any](r *Registry, name string) (TraitID, error) {
	typ := reflect.TypeOf((*T)(nil)).Elem()
	if typ.Size() == 0 {
		return InvalidTraitID, eris.Wrapf(machina.ErrInvalidArgument,
			"trait %q has zero size", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return InvalidTraitID, eris.Wrap(machina.ErrInvalidState, "registry is frozen")
	}
	if name == "" {
		return InvalidTraitID, eris.Wrap(machina.ErrInvalidArgument, "empty trait name")
	}
	if _, ok := r.traitsByName[name]; ok {
		return InvalidTraitID, eris.Wrapf(machina.ErrConflict, "trait %q already registered", name)
	}
	if _, ok := r.traitsByType[typ]; ok {
		return InvalidTraitID, eris.Wrapf(machina.ErrConflict, "trait type %v already registered", typ)
	}

	id := TraitID(len(r.traits))
	info := TraitInfo{
		ID:         id,
		Name:       name,
		Type:       typ,
		Size:       int(typ.Size()),
		SchemaHash: schemaHashOf(typ),
		mask:       bitmask.New(int(id)),
	}
	r.traits = append(r.traits, info)
	r.traitsByName[name] = id
	r.traitsByType[typ] = id
	return id, nil
}

// RegisterDetail registers a detail class under the given name. Pass
// InvalidDetailID as parent for a base class. The class mask is the self
// bit plus the parent's mask, which folds single inheritance into the
// bit-mask match algebra.
func (r *Registry) RegisterDetail(name string, parent DetailID) (DetailID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return InvalidDetailID, eris.Wrap(machina.ErrInvalidState, "registry is frozen")
	}
	if name == "" {
		return InvalidDetailID, eris.Wrap(machina.ErrInvalidArgument, "empty detail class name")
	}
	if _, ok := r.detailsByName[name]; ok {
		return InvalidDetailID, eris.Wrapf(machina.ErrConflict, "detail class %q already registered", name)
	}
	if parent != InvalidDetailID && (parent < 0 || int(parent) >= len(r.details)) {
		return InvalidDetailID, eris.Wrapf(machina.ErrInvalidArgument,
			"unknown parent class %d for %q", parent, name)
	}

	id := DetailID(len(r.details))
	info := DetailInfo{
		ID:            id,
		Name:          name,
		Parent:        parent,
		mask:          bitmask.New(int(id)),
		excludingMask: bitmask.New(int(id)),
	}
	if parent != InvalidDetailID {
		info.mask.Include(r.details[parent].mask)
	}
	r.details = append(r.details, info)
	r.detailsByName[name] = id
	return id, nil
}

// TraitsNum returns the number of registered trait types.
func (r *Registry) TraitsNum() int { return len(r.traits) }

// DetailsNum returns the number of registered detail classes.
func (r *Registry) DetailsNum() int { return len(r.details) }

// Trait returns the info for a trait id.
func (r *Registry) Trait(id TraitID) (*TraitInfo, error) {
	if id < 0 || int(id) >= len(r.traits) {
		return nil, eris.Wrapf(machina.ErrInvalidArgument, "unknown trait id %d", id)
	}
	return &r.traits[id], nil
}

// Detail returns the info for a detail class id.
func (r *Registry) Detail(id DetailID) (*DetailInfo, error) {
	if id < 0 || int(id) >= len(r.details) {
		return nil, eris.Wrapf(machina.ErrInvalidArgument, "unknown detail class id %d", id)
	}
	return &r.details[id], nil
}

// TraitByName resolves a registered trait name.
func (r *Registry) TraitByName(name string) (TraitID, bool) {
	id, ok := r.traitsByName[name]
	return id, ok
}

// DetailByName resolves a registered detail class name.
func (r *Registry) DetailByName(name string) (DetailID, bool) {
	id, ok := r.detailsByName[name]
	return id, ok
}

// TraitIDOf resolves the trait id registered for the Go type T.
func TraitIDOf[T any](r *Registry) (TraitID, error) {
	typ := reflect.TypeOf((*T)(nil)).Elem()
	id, ok := r.traitsByType[typ]
	if !ok {
		return InvalidTraitID, eris.Wrapf(machina.ErrInvalidArgument,
			"trait type %v is not registered", typ)
	}
	return id, nil
}

// IsSubclassOf reports whether class a is b or a descendant of b.
func (r *Registry) IsSubclassOf(a, b DetailID) bool {
	if a < 0 || int(a) >= len(r.details) || b < 0 || int(b) >= len(r.details) {
		return false
	}
	for id := a; id != InvalidDetailID; id = r.details[id].Parent {
		if id == b {
			return true
		}
	}
	return false
}

func schemaHashOf(typ reflect.Type) uint64 {
	schema := jsonschema.ReflectFromType(typ)
	bz, err := json.Marshal(schema)
	if err != nil {
		// Schema reflection over a plain value type cannot fail to
		// marshal; treat it as a registration-time bug.
		panic(eris.Wrapf(err, "reflecting schema for %v", typ))
	}
	return xxhash.Sum64(bz)
}
