package collection

import (
	"cmp"
	"math"
	"strconv"

	"github.com/five82/clanhub/internal/model"
)

// Policy describes how one kind of record is ordered.
type Policy struct {
	Kind model.Kind

	// Compare orders two records; ties are broken by id afterwards.
	Compare func(a, b model.Record) int

	// OrderFields lists the fields Compare reads. An update touching one of
	// them re-sorts the collection.
	OrderFields []string

	// PrependInserts keeps arrival order: inserts go to the front and updates
	// never move records. Snapshots are still ordered by Compare.
	PrependInserts bool
}

// PolicyFor returns the ordering policy of a synchronized kind.
func PolicyFor(kind model.Kind) Policy {
	switch kind {
	case model.KindLeaderboard:
		return Policy{
			Kind:        kind,
			Compare:     ascending(model.FieldRank),
			OrderFields: []string{model.FieldRank},
		}
	case model.KindTopPlayers:
		return Policy{
			Kind:        kind,
			Compare:     descending(model.FieldScore),
			OrderFields: []string{model.FieldScore},
		}
	default:
		// news, awards, notifications, clan requests
		return Policy{
			Kind:           kind,
			Compare:        newestFirst,
			OrderFields:    []string{model.FieldCreatedAt},
			PrependInserts: true,
		}
	}
}

func (p Policy) touchesOrder(changed []string) bool {
	for _, key := range changed {
		for _, field := range p.OrderFields {
			if key == field {
				return true
			}
		}
	}
	return false
}

func (p Policy) compare(a, b model.Record) int {
	if p.Compare != nil {
		if c := p.Compare(a, b); c != 0 {
			return c
		}
	}
	return compareIDs(a.ID(), b.ID())
}

// ascending sorts records without the field last.
func ascending(field string) func(a, b model.Record) int {
	return func(a, b model.Record) int {
		return cmp.Compare(number(a, field, math.Inf(1)), number(b, field, math.Inf(1)))
	}
}

// descending sorts records without the field last.
func descending(field string) func(a, b model.Record) int {
	return func(a, b model.Record) int {
		return cmp.Compare(number(b, field, math.Inf(-1)), number(a, field, math.Inf(-1)))
	}
}

func newestFirst(a, b model.Record) int {
	return b.Time(model.FieldCreatedAt).Compare(a.Time(model.FieldCreatedAt))
}

func number(r model.Record, field string, missing float64) float64 {
	if v, ok := r.Float(field); ok {
		return v
	}
	return missing
}

// compareIDs orders numeric ids numerically and everything else lexically.
func compareIDs(a, b string) int {
	ai, aerr := strconv.ParseInt(a, 10, 64)
	bi, berr := strconv.ParseInt(b, 10, 64)
	if aerr == nil && berr == nil {
		return cmp.Compare(ai, bi)
	}
	return cmp.Compare(a, b)
}

// OwnedBy returns a visibility filter that admits only records authored by
// viewerID.
func OwnedBy(viewerID string) func(model.Record) bool {
	return func(r model.Record) bool {
		return r.String(model.FieldUserID) == viewerID
	}
}
