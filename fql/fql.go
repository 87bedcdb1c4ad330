// Package fql implements the filter query language: a small textual form
// for building fingerprint filters, used by tooling and debug surfaces.
//
//	TRAIT(health, armor) & DETAIL(weapon) & !TRAIT(poison) & FLAG(A) & !FLAG(B)
//
// Factors join with `&` only: a filter is a conjunction of clauses, so
// there is no `|`. Negating a parenthesized group is rejected for the
// same reason.
package fql

import (
	"github.com/alecthomas/participle/v2"
	"github.com/rotisserie/eris"

	"github.com/operatics/machina"
	"github.com/operatics/machina/fingerprint"
	"github.com/operatics/machina/mark"
	"github.com/operatics/machina/registry"
)

type fqlName struct {
	Name string `@Ident`
}

type fqlTraits struct {
	Names []*fqlName `"TRAIT" "(" (@@ ",")* @@ ")"`
}

type fqlDetails struct {
	Names []*fqlName `"DETAIL" "(" (@@ ",")* @@ ")"`
}

type fqlFlags struct {
	Names []*fqlName `"FLAG" "(" (@@ ",")* @@ ")"`
}

type fqlNot struct {
	Sub *fqlValue `"!" @@`
}

type fqlValue struct {
	Traits  *fqlTraits  `@@`
	Details *fqlDetails `| @@`
	Flags   *fqlFlags   `| @@`
	Not     *fqlNot     `| @@`
	Sub     *fqlTerm    `| "(" @@ ")"`
}

type fqlTerm struct {
	Left  *fqlValue   `@@`
	Right []*fqlValue `("&" @@)*`
}

var internalFQLParser = participle.MustBuild[fqlTerm]()

// Parse builds a filter from a query over the registry's component names.
// Unknown names fail with ErrInvalidArgument; contradictory clauses
// surface the filter's own ErrConflict.
func Parse(src string, reg *registry.Registry) (*fingerprint.Filter, error) {
	term, err := internalFQLParser.ParseString("", src)
	if err != nil {
		return nil, eris.Wrapf(machina.ErrInvalidArgument, "parsing query: %v", err)
	}
	x := fingerprint.NewFilter(reg)
	if err := applyTerm(x, term, false); err != nil {
		return nil, err
	}
	return x, nil
}

func applyTerm(x *fingerprint.Filter, term *fqlTerm, negated bool) error {
	if term.Left == nil {
		return eris.Wrap(machina.ErrInvalidArgument, "empty query expression")
	}
	if err := applyValue(x, term.Left, negated); err != nil {
		return err
	}
	for _, v := range term.Right {
		if err := applyValue(x, v, negated); err != nil {
			return err
		}
	}
	return nil
}

func applyValue(x *fingerprint.Filter, value *fqlValue, negated bool) error {
	switch {
	case value.Not != nil:
		if negated {
			return eris.Wrap(machina.ErrInvalidArgument, "double negation")
		}
		return applyValue(x, value.Not.Sub, true)
	case value.Traits != nil:
		return applyTraits(x, value.Traits.Names, negated)
	case value.Details != nil:
		return applyDetails(x, value.Details.Names, negated)
	case value.Flags != nil:
		return applyFlags(x, value.Flags.Names, negated)
	case value.Sub != nil:
		if negated {
			return eris.Wrap(machina.ErrInvalidArgument, "cannot negate a group; negate its clauses")
		}
		return applyTerm(x, value.Sub, false)
	}
	return eris.Wrap(machina.ErrInvalidArgument, "unknown query clause")
}

func applyTraits(x *fingerprint.Filter, names []*fqlName, negated bool) error {
	for _, n := range names {
		id, ok := x.Registry().TraitByName(n.Name)
		if !ok {
			return eris.Wrapf(machina.ErrInvalidArgument, "unknown trait %q", n.Name)
		}
		var err error
		if negated {
			err = x.ExcludeTrait(id)
		} else {
			err = x.IncludeTrait(id)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func applyDetails(x *fingerprint.Filter, names []*fqlName, negated bool) error {
	for _, n := range names {
		id, ok := x.Registry().DetailByName(n.Name)
		if !ok {
			return eris.Wrapf(machina.ErrInvalidArgument, "unknown detail class %q", n.Name)
		}
		var err error
		if negated {
			err = x.ExcludeDetail(id)
		} else {
			err = x.IncludeDetail(id)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func applyFlags(x *fingerprint.Filter, names []*fqlName, negated bool) error {
	for _, n := range names {
		f, ok := mark.FlagByName(n.Name)
		if !ok {
			return eris.Wrapf(machina.ErrInvalidArgument, "unknown flag %q", n.Name)
		}
		var err error
		if negated {
			err = x.ExcludeFlags(f)
		} else {
			err = x.IncludeFlags(f)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
