// Package codec serializes marks, fingerprints and filters: a versioned
// little-endian binary archive for persistence and a JSON form for debug
// representations.
package codec

import (
	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"

	"github.com/operatics/machina"
	"github.com/operatics/machina/fingerprint"
	"github.com/operatics/machina/mark"
	"github.com/operatics/machina/registry"
)

// Decode unmarshals a JSON debug payload into T.
func Decode[T any](bz []byte) (T, error) {
	out := new(T)
	err := json.Unmarshal(bz, out)
	if err != nil {
		return *out, eris.Wrap(err, "decoding json payload")
	}
	return *out, nil
}

// Encode marshals a value into its JSON debug payload.
func Encode(v any) ([]byte, error) {
	bz, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "encoding json payload")
	}
	return bz, nil
}

// FilterDump is the JSON debug form of a filter. Names take the place of
// numeric ids, the same policy as the binary archive; flag words use their
// String form.
type FilterDump struct {
	IncludeFlags   string   `json:"include_flags"`
	ExcludeFlags   string   `json:"exclude_flags"`
	IncludeTraits  []string `json:"include_traits,omitempty"`
	ExcludeTraits  []string `json:"exclude_traits,omitempty"`
	IncludeDetails []string `json:"include_details,omitempty"`
	ExcludeDetails []string `json:"exclude_details,omitempty"`
}

// EncodeFilterJSON dumps every clause of a filter as JSON. The log package
// embeds these dumps in its filter events.
func EncodeFilterJSON(x *fingerprint.Filter) ([]byte, error) {
	reg := x.Registry()
	dump := FilterDump{
		IncludeFlags: x.IncludeFlagmark().String(),
		ExcludeFlags: x.ExcludeFlagmark().String(),
	}
	for _, id := range x.IncludedTraits().IDs() {
		info, err := reg.Trait(id)
		if err != nil {
			return nil, err
		}
		dump.IncludeTraits = append(dump.IncludeTraits, info.Name)
	}
	for _, id := range x.ExcludedTraits() {
		info, err := reg.Trait(id)
		if err != nil {
			return nil, err
		}
		dump.ExcludeTraits = append(dump.ExcludeTraits, info.Name)
	}
	for _, id := range x.IncludedDetails().IDs() {
		info, err := reg.Detail(id)
		if err != nil {
			return nil, err
		}
		dump.IncludeDetails = append(dump.IncludeDetails, info.Name)
	}
	for _, id := range x.ExcludedDetails() {
		info, err := reg.Detail(id)
		if err != nil {
			return nil, err
		}
		dump.ExcludeDetails = append(dump.ExcludeDetails, info.Name)
	}
	return Encode(dump)
}

// DecodeFilterJSON restores a filter from its JSON dump. Clauses replay
// through the filter's own mutators, so a dump carrying a contradiction
// fails the same way building it live would.
func DecodeFilterJSON(reg *registry.Registry, data []byte) (*fingerprint.Filter, error) {
	dump, err := Decode[FilterDump](data)
	if err != nil {
		return nil, err
	}
	incFlags, err := mark.ParseFlagmark(dump.IncludeFlags)
	if err != nil {
		return nil, err
	}
	excFlags, err := mark.ParseFlagmark(dump.ExcludeFlags)
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
	for _, name := range dump.IncludeTraits {
		id, ok := reg.TraitByName(name)
		if !ok {
			return nil, eris.Wrapf(machina.ErrInvalidArgument, "unknown trait %q", name)
		}
		if err := x.IncludeTrait(id); err != nil {
			return nil, err
		}
	}
	for _, name := range dump.ExcludeTraits {
		id, ok := reg.TraitByName(name)
		if !ok {
			return nil, eris.Wrapf(machina.ErrInvalidArgument, "unknown trait %q", name)
		}
		if err := x.ExcludeTrait(id); err != nil {
			return nil, err
		}
	}
	for _, name := range dump.IncludeDetails {
		id, ok := reg.DetailByName(name)
		if !ok {
			return nil, eris.Wrapf(machina.ErrInvalidArgument, "unknown detail class %q", name)
		}
		if err := x.IncludeDetail(id); err != nil {
			return nil, err
		}
	}
	for _, name := range dump.ExcludeDetails {
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
