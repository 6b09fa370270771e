package engine

import (
	"sort"

	"github.com/terrane-io/terrane/internal/ir"
)

// Wave is a scheduling batch: changes with no ordering dependency among
// them, safe to execute concurrently.
type Wave struct {
	Index   int
	Changes []*ir.ResourceChange
}

// Schedule partitions a plan's changes into ordered waves.
//
// Create, update and replace changes run first: a change lands one wave
// after the latest wave of any producer it reads from. Deletes follow in
// their own waves, inverted: a resource is deleted one wave before the
// producers it reads from, so consumers always go first.
func Schedule(plan *ir.Plan) ([]Wave, error) {
	var forward, deletes []*ir.ResourceChange
	for _, change := range plan.Changes {
		if change.Action == ir.ActionDelete {
			deletes = append(deletes, change)
		} else {
			forward = append(forward, change)
		}
	}

	waves, err := levelize(forward, false)
	if err != nil {
		return nil, err
	}
	deleteWaves, err := levelize(deletes, true)
	if err != nil {
		return nil, err
	}

	offset := len(waves)
	for _, w := range deleteWaves {
		w.Index = offset + w.Index
		waves = append(waves, w)
	}
	for i := range waves {
		waves[i].Index = i
	}
	return waves, nil
}

// levelize assigns each change the smallest wave consistent with its
// dependencies among the given changes. With invert set, edges are
// reversed: a change waits for the changes that depend on it.
func levelize(changes []*ir.ResourceChange, invert bool) ([]Wave, error) {
	if len(changes) == 0 {
		return nil, nil
	}

	inSet := make(map[string]*ir.ResourceChange, len(changes))
	for _, c := range changes {
		inSet[c.Address] = c
	}

	// blockers[addr] lists the change addresses that must land in an
	// earlier wave than addr.
	blockers := make(map[string][]string, len(changes))
	for _, c := range changes {
		for _, dep := range c.Deps {
			if _, ok := inSet[dep]; !ok {
				continue
			}
			if invert {
				blockers[dep] = append(blockers[dep], c.Address)
			} else {
				blockers[c.Address] = append(blockers[c.Address], dep)
			}
		}
	}

	level := make(map[string]int, len(changes))
	assigned := 0
	for assigned < len(changes) {
		progress := false
		for _, c := range changes {
			if _, done := level[c.Address]; done {
				continue
			}
			ready := true
			max := -1
			for _, b := range blockers[c.Address] {
				lvl, done := level[b]
				if !done {
					ready = false
					break
				}
				if lvl > max {
					max = lvl
				}
			}
			if ready {
				level[c.Address] = max + 1
				assigned++
				progress = true
			}
		}
		if !progress {
			// Contradictory constraints; unreachable for an acyclic graph.
			var remaining []string
			for _, c := range changes {
				if _, done := level[c.Address]; !done {
					remaining = append(remaining, c.Address)
				}
			}
			sort.Strings(remaining)
			return nil, &UnschedulableError{Remaining: remaining}
		}
	}

	maxLevel := 0
	for _, lvl := range level {
		if lvl > maxLevel {
			maxLevel = lvl
		}
	}

	waves := make([]Wave, maxLevel+1)
	for i := range waves {
		waves[i].Index = i
	}
	for _, c := range changes {
		lvl := level[c.Address]
		waves[lvl].Changes = append(waves[lvl].Changes, c)
	}
	for i := range waves {
		sort.Slice(waves[i].Changes, func(a, b int) bool {
			return waves[i].Changes[a].Address < waves[i].Changes[b].Address
		})
	}
	return waves, nil
}
