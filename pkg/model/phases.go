package model

import "fmt"

// PhaseTable is the immutable-per-run set of phase references, ordered by
// MaxAgeMinutes ascending. The Supervisor loads it once at startup;
// registry refreshes do not reload it.
type PhaseTable struct {
	byID    map[PhaseID]PhaseRef
	ordered []PhaseRef
}

// NewPhaseTable builds a PhaseTable from rows read from ref_coin_phases.
// It returns an error if given no rows: an empty table is treated as a
// load failure rather than synthesizing a fallback phase.
func NewPhaseTable(rows []PhaseRef) (*PhaseTable, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("model: phase table has no rows")
	}
	t := &PhaseTable{byID: make(map[PhaseID]PhaseRef, len(rows))}
	for _, r := range rows {
		t.byID[r.ID] = r
	}
	t.ordered = append(t.ordered, rows...)
	sortPhasesByMaxAge(t.ordered)
	return t, nil
}

func sortPhasesByMaxAge(rows []PhaseRef) {
	for i := 1; i < len(rows); i++ {
		for j := i; j > 0 && rows[j].MaxAgeMinutes < rows[j-1].MaxAgeMinutes; j-- {
			rows[j], rows[j-1] = rows[j-1], rows[j]
		}
	}
}

// Get returns the phase by ID.
func (t *PhaseTable) Get(id PhaseID) (PhaseRef, bool) {
	p, ok := t.byID[id]
	return p, ok
}

// Smallest returns the phase with the smallest ID, used to seed a newly
// discovered token's starting phase.
func (t *PhaseTable) Smallest() PhaseRef {
	smallest := t.ordered[0]
	for _, p := range t.ordered {
		if p.ID < smallest.ID {
			smallest = p
		}
	}
	return smallest
}

// Next returns the next phase whose MaxAgeMinutes is strictly greater than
// the current phase's, for age-based phase transitions. ok is false when
// current is already the last phase (caller should then mark the token
// finished).
func (t *PhaseTable) Next(current PhaseID) (PhaseRef, bool) {
	cur, ok := t.byID[current]
	if !ok {
		return PhaseRef{}, false
	}
	var best PhaseRef
	found := false
	for _, p := range t.ordered {
		if p.MaxAgeMinutes > cur.MaxAgeMinutes {
			if !found || p.MaxAgeMinutes < best.MaxAgeMinutes {
				best = p
				found = true
			}
		}
	}
	return best, found
}

// HighestMaxAge returns the largest MaxAgeMinutes across all phases, the
// threshold past which a token transitions to PhaseFinished.
func (t *PhaseTable) HighestMaxAge() int {
	max := t.ordered[0].MaxAgeMinutes
	for _, p := range t.ordered {
		if p.MaxAgeMinutes > max {
			max = p.MaxAgeMinutes
		}
	}
	return max
}
