package sim

import (
	"math"
	"sort"

	"gridstead/internal/catalog"
	"gridstead/internal/grid"
	"gridstead/internal/resource"
)

// runProduction resolves one production phase: buildings are ordered so
// producers run before adjacent consumers of their outputs, then each
// building pays upkeep, waits out its interval and converts inputs to
// outputs, scaled down proportionally when inputs run short.
func (e *Engine) runProduction(rec *TurnRecord) {
	for _, b := range e.productionOrder() {
		def, ok := e.cat.Building(b.Kind)
		if !ok {
			continue
		}

		if !e.ledger.ReserveAll(catalog.Stakes(def.Upkeep)) {
			b.Active = false
			rec.InactiveBuildings = append(rec.InactiveBuildings, b.ID)
			e.log.Debug("upkeep unpaid, building idle", "building", b.ID, "kind", b.Kind)
			continue
		}
		b.Active = true

		b.SinceProduced++
		if b.SinceProduced < def.EffectInterval() {
			continue
		}

		ratio := e.inputRatio(def)
		if ratio <= 0 {
			continue
		}

		debits := scaleStakes(catalog.Stakes(def.Inputs), ratio)
		if !e.ledger.ReserveAll(debits) {
			// cannot happen: scaled lines never exceed available stock
			continue
		}
		for _, s := range debits {
			rec.addConsumed(s.Kind, s.Qty)
		}

		eff := e.plugins.Efficiency(b.ID, e.ledger) * e.pulse
		for _, out := range def.Outputs {
			qty := floorQty(float64(out.Qty) * eff * ratio)
			credited := e.ledger.Credit(resource.Kind(out.Resource), qty)
			rec.addProduced(resource.Kind(out.Resource), credited)
		}
		for _, extra := range e.plugins.ExtraOutputs(b.ID) {
			qty := floorQty(float64(extra.Qty) * ratio)
			credited := e.ledger.Credit(extra.Kind, qty)
			rec.addProduced(extra.Kind, credited)
		}

		b.SinceProduced = 0
	}
	// a pulse lasts exactly one production phase
	e.pulse = 1
}

// inputRatio is the shortage factor for a building this tick: the minimum of
// available/needed over the building's aggregated input kinds, capped at 1.
// A building with no inputs always runs at full ratio.
func (e *Engine) inputRatio(def catalog.BuildingDef) float64 {
	need := make(map[resource.Kind]int)
	for _, in := range def.Inputs {
		if in.Qty > 0 {
			need[resource.Kind(in.Resource)] += in.Qty
		}
	}
	ratio := 1.0
	for kind, qty := range need {
		r := float64(e.ledger.Amount(kind)) / float64(qty)
		if r < ratio {
			ratio = r
		}
	}
	return ratio
}

// scaleStakes floors every line by the ratio. floor(need*ratio) never
// exceeds the stock that produced the ratio, so the scaled reserve holds.
func scaleStakes(lines []resource.Stake, ratio float64) []resource.Stake {
	if ratio >= 1 {
		return lines
	}
	out := make([]resource.Stake, 0, len(lines))
	for _, s := range lines {
		out = append(out, resource.Stake{Kind: s.Kind, Qty: floorQty(float64(s.Qty) * ratio)})
	}
	return out
}

// floorQty floors with a small epsilon so exact ratios (2/5 of 5) are not
// lost to float rounding.
func floorQty(v float64) int {
	return int(math.Floor(v + 1e-9))
}

// productionOrder sorts buildings so that an adjacent producer of a kind runs
// before its consumer. An edge producer->consumer exists when the two
// buildings sit on neighboring tiles, the producer's outputs intersect the
// consumer's inputs, and the dependency is unambiguous (the reverse does not
// also hold). Kahn's algorithm with an ascending-id tie-break keeps the
// result deterministic; if a cycle survives the edge rules, the remainder
// falls back to declaration order.
func (e *Engine) productionOrder() []*grid.Building {
	buildings := e.grid.Buildings()
	if len(buildings) < 2 {
		return buildings
	}

	defs := make(map[grid.BuildingID]catalog.BuildingDef, len(buildings))
	for _, b := range buildings {
		if def, ok := e.cat.Building(b.Kind); ok {
			defs[b.ID] = def
		}
	}

	edges := make(map[grid.BuildingID][]grid.BuildingID)
	indeg := make(map[grid.BuildingID]int, len(buildings))
	for _, b := range buildings {
		indeg[b.ID] = 0
	}

	for _, b := range buildings {
		t, ok := e.grid.TileByID(b.Tile)
		if !ok {
			continue
		}
		for _, nt := range e.grid.Neighbors(t.Coord) {
			if nt.Building == 0 || nt.Building <= b.ID {
				continue // each pair considered once, from the lower id
			}
			c, ok := e.grid.Building(nt.Building)
			if !ok {
				continue
			}
			forward := feeds(defs[b.ID], defs[c.ID])
			backward := feeds(defs[c.ID], defs[b.ID])
			switch {
			case forward && !backward:
				edges[b.ID] = append(edges[b.ID], c.ID)
				indeg[c.ID]++
			case backward && !forward:
				edges[c.ID] = append(edges[c.ID], b.ID)
				indeg[b.ID]++
			}
		}
	}

	var ready []grid.BuildingID
	for _, b := range buildings {
		if indeg[b.ID] == 0 {
			ready = append(ready, b.ID)
		}
	}

	ordered := make([]*grid.Building, 0, len(buildings))
	seen := make(map[grid.BuildingID]bool, len(buildings))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
		id := ready[0]
		ready = ready[1:]
		if b, ok := e.grid.Building(id); ok {
			ordered = append(ordered, b)
			seen[id] = true
		}
		for _, next := range edges[id] {
			indeg[next]--
			if indeg[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	if len(ordered) < len(buildings) {
		for _, b := range buildings {
			if !seen[b.ID] {
				ordered = append(ordered, b)
			}
		}
	}
	return ordered
}

// feeds reports whether any of from's outputs match one of to's inputs.
func feeds(from, to catalog.BuildingDef) bool {
	for _, out := range from.Outputs {
		for _, in := range to.Inputs {
			if out.Resource == in.Resource {
				return true
			}
		}
	}
	return false
}
