package codec

import (
	"encoding/binary"

	"github.com/rotisserie/eris"

	"github.com/operatics/machina"
	"github.com/operatics/machina/fingerprint"
	"github.com/operatics/machina/mark"
	"github.com/operatics/machina/registry"
)

// Archive format versions. Version 2 introduced the atomic flag word;
// older payloads carry flag layouts this engine no longer understands.
const (
	FormatVersion    uint32 = 2
	MinFormatVersion uint32 = 2
)

// Writer builds a little-endian archive, starting with the format version.
type Writer struct {
	buf []byte
}

// NewWriter returns a writer with the version header in place.
func NewWriter() *Writer {
	w := &Writer{}
	w.PutUint32(FormatVersion)
	return w
}

// Bytes returns the archive payload.
func (w *Writer) Bytes() []byte { return w.buf }

// PutUint32 appends one little-endian word.
func (w *Writer) PutUint32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

// PutUint64 appends one little-endian doubleword.
func (w *Writer) PutUint64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

// PutString appends a length-prefixed string.
func (w *Writer) PutString(s string) {
	w.PutUint32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

// Reader consumes a little-endian archive, validating the version header.
type Reader struct {
	buf []byte
	off int
}

// NewReader wraps a payload, rejecting versions outside the supported
// window.
func NewReader(data []byte) (*Reader, error) {
	r := &Reader{buf: data}
	v, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	if v < MinFormatVersion || v > FormatVersion {
		return nil, eris.Wrapf(machina.ErrInvalidState,
			"archive version %d outside supported [%d, %d]", v, MinFormatVersion, FormatVersion)
	}
	return r, nil
}

// Uint32 consumes one little-endian word.
func (r *Reader) Uint32() (uint32, error) {
	if r.off+4 > len(r.buf) {
		return 0, eris.Wrap(machina.ErrInvalidArgument, "truncated archive")
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

// Uint64 consumes one little-endian doubleword.
func (r *Reader) Uint64() (uint64, error) {
	if r.off+8 > len(r.buf) {
		return 0, eris.Wrap(machina.ErrInvalidArgument, "truncated archive")
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}

// String consumes a length-prefixed string.
func (r *Reader) String() (string, error) {
	n, err := r.Uint32()
	if err != nil {
		return "", err
	}
	if r.off+int(n) > len(r.buf) {
		return "", eris.Wrap(machina.ErrInvalidArgument, "truncated archive")
	}
	s := string(r.buf[r.off : r.off+int(n)])
	r.off += int(n)
	return s, nil
}

// WriteFlagmark appends a flag word.
func (w *Writer) WriteFlagmark(f mark.Flagmark) {
	w.PutUint32(uint32(f))
}

// ReadFlagmark consumes a flag word.
func (r *Reader) ReadFlagmark() (mark.Flagmark, error) {
	v, err := r.Uint32()
	return mark.Flagmark(v), err
}

// Type ids are serialized as registered names: numeric ids are assigned in
// registration order and do not survive across processes. Masks are
// regenerated on load. Each trait name travels with its schema hash, so a
// payload whose trait layout drifted since it was written is rejected.

// WriteTraitmark appends a traitmark as a list of name and schema hash
// pairs.
func (w *Writer) WriteTraitmark(reg *registry.Registry, tm *mark.Traitmark) error {
	w.PutUint32(uint32(tm.Len()))
	for _, id := range tm.IDs() {
		info, err := reg.Trait(id)
		if err != nil {
			return err
		}
		w.PutString(info.Name)
		w.PutUint64(info.SchemaHash)
	}
	return nil
}

// ReadTraitmark consumes a name list into a traitmark over the registry,
// checking each schema hash against the registered trait type.
func (r *Reader) ReadTraitmark(reg *registry.Registry) (mark.Traitmark, error) {
	var tm mark.Traitmark
	n, err := r.Uint32()
	if err != nil {
		return tm, err
	}
	for i := uint32(0); i < n; i++ {
		name, err := r.String()
		if err != nil {
			return tm, err
		}
		hash, err := r.Uint64()
		if err != nil {
			return tm, err
		}
		id, ok := reg.TraitByName(name)
		if !ok {
			return tm, eris.Wrapf(machina.ErrInvalidArgument, "unknown trait %q", name)
		}
		info, err := reg.Trait(id)
		if err != nil {
			return tm, err
		}
		if info.SchemaHash != hash {
			return tm, eris.Wrapf(machina.ErrInvalidState, "trait %q layout drifted", name)
		}
		if _, err := tm.Add(id); err != nil {
			return tm, err
		}
	}
	return tm, nil
}

// WriteDetailmark appends a detailmark as a name list.
func (w *Writer) WriteDetailmark(reg *registry.Registry, dm *mark.Detailmark) error {
	w.PutUint32(uint32(dm.Len()))
	for _, id := range dm.IDs() {
		info, err := reg.Detail(id)
		if err != nil {
			return err
		}
		w.PutString(info.Name)
	}
	return nil
}

// ReadDetailmark consumes a name list into a detailmark, regenerating the
// ancestry masks from the registry.
func (r *Reader) ReadDetailmark(reg *registry.Registry) (mark.Detailmark, error) {
	dm := mark.NewDetailmark(reg)
	n, err := r.Uint32()
	if err != nil {
		return dm, err
	}
	for i := uint32(0); i < n; i++ {
		name, err := r.String()
		if err != nil {
			return dm, err
		}
		id, ok := reg.DetailByName(name)
		if !ok {
			return dm, eris.Wrapf(machina.ErrInvalidArgument, "unknown detail class %q", name)
		}
		if _, err := dm.Add(id); err != nil {
			return dm, err
		}
	}
	return dm, nil
}

// EncodeFingerprint archives a fingerprint: flag word, traitmark,
// detailmark.
func EncodeFingerprint(fp *fingerprint.Fingerprint) ([]byte, error) {
	reg := fp.Registry()
	w := NewWriter()
	w.WriteFlagmark(fp.Flagmark().Get())
	if err := w.WriteTraitmark(reg, fp.Traits()); err != nil {
		return nil, err
	}
	if err := w.WriteDetailmark(reg, fp.Details()); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// DecodeFingerprint restores a fingerprint over the registry.
func DecodeFingerprint(reg *registry.Registry, data []byte) (*fingerprint.Fingerprint, error) {
	r, err := NewReader(data)
	if err != nil {
		return nil, err
	}
	flags, err := r.ReadFlagmark()
	if err != nil {
		return nil, err
	}
	tm, err := r.ReadTraitmark(reg)
	if err != nil {
		return nil, err
	}
	dm, err := r.ReadDetailmark(reg)
	if err != nil {
		return nil, err
	}
	return fingerprint.New(reg, flags, tm.IDs(), dm.IDs()), nil
}

// EncodeFilter archives every clause of a filter.
func EncodeFilter(x *fingerprint.Filter) ([]byte, error) {
	reg := x.Registry()
	w := NewWriter()
	w.WriteFlagmark(x.IncludeFlagmark())
	w.WriteFlagmark(x.ExcludeFlagmark())
	if err := w.WriteTraitmark(reg, x.IncludedTraits()); err != nil {
		return nil, err
	}
	if err := w.WriteDetailmark(reg, x.IncludedDetails()); err != nil {
		return nil, err
	}
	exTraits := x.ExcludedTraits()
	w.PutUint32(uint32(len(exTraits)))
	for _, id := range exTraits {
		info, err := reg.Trait(id)
		if err != nil {
			return nil, err
		}
		w.PutString(info.Name)
	}
	exDetails := x.ExcludedDetails()
	w.PutUint32(uint32(len(exDetails)))
	for _, id := range exDetails {
		info, err := reg.Detail(id)
		if err != nil {
			return nil, err
		}
		w.PutString(info.Name)
	}
	return w.Bytes(), nil
}

// DecodeFilter restores a filter over the registry. Clause reconstruction
// goes through the filter's own mutators, so a payload carrying a
// contradiction fails the same way building it live would.
func DecodeFilter(reg *registry.Registry, data []byte) (*fingerprint.Filter, error) {
	r, err := NewReader(data)
	if err != nil {
		return nil, err
	}
	incFlags, err := r.ReadFlagmark()
	if err != nil {
		return nil, err
	}
	excFlags, err := r.ReadFlagmark()
	if err != nil {
		return nil, err
	}
	x := fingerprint.NewFilter(reg)
	x.RemoveFlagInclusion(x.IncludeFlagmark())
	x.RemoveFlagExclusion(x.ExcludeFlagmark())
	if err := x.IncludeFlags(incFlags); err != nil {
		return nil, err
	}
	if err := x.ExcludeFlags(excFlags); err != nil {
		return nil, err
	}

	tm, err := r.ReadTraitmark(reg)
	if err != nil {
		return nil, err
	}
	if err := x.IncludeTrait(tm.IDs()...); err != nil {
		return nil, err
	}
	dm, err := r.ReadDetailmark(reg)
	if err != nil {
		return nil, err
	}
	if err := x.IncludeDetail(dm.IDs()...); err != nil {
		return nil, err
	}

	n, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		name, err := r.String()
		if err != nil {
			return nil, err
		}
		id, ok := reg.TraitByName(name)
		if !ok {
			return nil, eris.Wrapf(machina.ErrInvalidArgument, "unknown trait %q", name)
		}
		if err := x.ExcludeTrait(id); err != nil {
			return nil, err
		}
	}
	n, err = r.Uint32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		name, err := r.String()
		if err != nil {
			return nil, err
		}
		id, ok := reg.DetailByName(name)
		if !ok {
			return nil, eris.Wrapf(machina.ErrInvalidArgument, "unknown detail class %q", name)
		}
		if err := x.ExcludeDetail(id); err != nil {
			return nil, err
		}
	}
	return x, nil
}
