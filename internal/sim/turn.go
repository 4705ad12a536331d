package sim

import (
	"fmt"

	"gridstead/internal/catalog"
	"gridstead/internal/grid"
	"gridstead/internal/resource"
)

// TurnRecord is the journal entry for one completed turn.
type TurnRecord struct {
	Turn              int                   `json:"turn"`
	Produced          map[resource.Kind]int `json:"produced,omitempty"`
	Consumed          map[resource.Kind]int `json:"consumed,omitempty"`
	EventsTriggered   []string              `json:"events_triggered,omitempty"`
	EventsResolved    []string              `json:"events_resolved,omitempty"`
	EventsExpired     []string              `json:"events_expired,omitempty"`
	CardsPlayed       []string              `json:"cards_played,omitempty"`
	CommandErrors     []string              `json:"command_errors,omitempty"`
	InactiveBuildings []grid.BuildingID     `json:"inactive_buildings,omitempty"`
	GlobalUpkeepPaid  bool                  `json:"global_upkeep_paid"`
}

func (r *TurnRecord) addProduced(kind resource.Kind, qty int) {
	if qty == 0 {
		return
	}
	if r.Produced == nil {
		r.Produced = make(map[resource.Kind]int)
	}
	r.Produced[kind] += qty
}

func (r *TurnRecord) addConsumed(kind resource.Kind, qty int) {
	if qty == 0 {
		return
	}
	if r.Consumed == nil {
		r.Consumed = make(map[resource.Kind]int)
	}
	r.Consumed[kind] += qty
}

// AdvanceTurn runs the fixed phase sequence for one turn: begin, production,
// events, card window, resolve choices, end. A snapshot is published after
// every phase; an invariant violation halts the engine mid-sequence and the
// partial record is still journaled.
func (e *Engine) AdvanceTurn() (TurnRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.halted != nil {
		return TurnRecord{}, e.halted
	}

	rec := TurnRecord{Turn: e.turn, GlobalUpkeepPaid: true}
	e.log.Info("turn begins", "turn", e.turn)

	phases := []struct {
		phase Phase
		run   func(*TurnRecord)
	}{
		{PhaseBegin, func(*TurnRecord) {}},
		{PhaseProduction, e.runProduction},
		{PhaseEvents, e.runEvents},
		{PhaseCardWindow, e.drainCardWindow},
		{PhaseResolve, e.drainResolutions},
		{PhaseEnd, e.endTurn},
	}
	for _, p := range phases {
		e.phase = p.phase
		p.run(&rec)
		e.publish()
		if e.halted != nil {
			break
		}
	}

	e.phase = PhaseIdle
	if e.halted == nil {
		e.turn++
	}
	e.publish()
	e.journal = append(e.journal, rec)

	if e.halted != nil {
		return rec, e.halted
	}
	return rec, nil
}

// runEvents triggers this turn's events and applies the immediate ones.
// Choice events stay open for the resolve phase (and later turns, within
// their window).
func (e *Engine) runEvents(rec *TurnRecord) {
	res := e.events.Trigger(stateView{e}, e.rng)
	for _, inst := range res.Immediate {
		rec.EventsTriggered = append(rec.EventsTriggered, inst.Kind)
		def, ok := e.cat.Event(inst.Kind)
		if !ok {
			continue
		}
		e.applyEventEffects(inst.Kind, def.Effects)
		e.events.MarkResolved(inst)
		rec.EventsResolved = append(rec.EventsResolved, inst.Kind)
		e.log.Info("event fired", "event", inst.Kind)
	}
	for _, inst := range res.Choices {
		rec.EventsTriggered = append(rec.EventsTriggered, inst.Kind)
		e.log.Info("choice event awaits a decision", "event", inst.Kind, "id", inst.ID)
	}
}

// drainCardWindow applies all queued commands except choice resolutions, in
// submission order. Failures are recorded, never fatal.
func (e *Engine) drainCardWindow(rec *TurnRecord) {
	var keep []Command
	for _, cmd := range e.queue {
		if cmd.Op == OpResolveChoice {
			keep = append(keep, cmd)
			continue
		}
		if err := e.applyCommand(cmd); err != nil {
			rec.CommandErrors = append(rec.CommandErrors, fmt.Sprintf("%s: %v", cmd.Op, err))
			e.log.Warn("queued command rejected", "op", string(cmd.Op), "err", err)
			continue
		}
		if cmd.Op == OpPlayCard {
			rec.CardsPlayed = append(rec.CardsPlayed, cmd.Card)
		}
	}
	e.queue = keep
}

func (e *Engine) applyCommand(cmd Command) error {
	switch cmd.Op {
	case OpPlaceTile:
		_, err := e.grid.Place(cmd.Coord, cmd.Terrain)
		return err
	case OpPlaceBuilding:
		_, err := e.placeBuilding(cmd.Coord, cmd.Building)
		return err
	case OpRemoveBuilding:
		b, err := e.grid.DetachBuilding(cmd.Coord)
		if err != nil {
			return err
		}
		e.plugins.ReleaseAll(b.ID)
		return nil
	case OpRemoveTile:
		b, err := e.grid.Remove(cmd.Coord)
		if err != nil {
			return err
		}
		if b != nil {
			e.plugins.ReleaseAll(b.ID)
		}
		return nil
	case OpAttachPlugin:
		return e.attachPlugin(cmd.Coord, cmd.Plugin)
	case OpDetachPlugin:
		b, ok := e.grid.BuildingAt(cmd.Coord)
		if !ok {
			return fmt.Errorf("%w: no building at (%d,%d)", ErrInvalidTarget, cmd.Coord.X, cmd.Coord.Y)
		}
		return e.plugins.Detach(b.ID, cmd.Plugin)
	case OpPlayCard:
		return e.playCard(cmd.Card, cmd.Coord)
	default:
		return fmt.Errorf("%w: unknown op %q", ErrInvalidTarget, cmd.Op)
	}
}

// drainResolutions applies queued choice resolutions in submission order.
func (e *Engine) drainResolutions(rec *TurnRecord) {
	var keep []Command
	for _, cmd := range e.queue {
		if cmd.Op != OpResolveChoice {
			keep = append(keep, cmd)
			continue
		}
		kind, err := e.resolveChoice(cmd.Event, cmd.Option)
		if err != nil {
			rec.CommandErrors = append(rec.CommandErrors, fmt.Sprintf("%s: %v", cmd.Op, err))
			e.log.Warn("choice resolution rejected", "event", cmd.Event, "err", err)
			continue
		}
		rec.EventsResolved = append(rec.EventsResolved, kind)
		e.log.Info("choice resolved", "event", kind, "option", cmd.Option)
	}
	e.queue = keep
}

// endTurn settles the global upkeep and expires choice events whose window
// has lapsed.
func (e *Engine) endTurn(rec *TurnRecord) {
	upkeep := catalog.Stakes(e.cat.Rules.GlobalUpkeep)
	if len(upkeep) > 0 && !e.ledger.ReserveAll(upkeep) {
		rec.GlobalUpkeepPaid = false
		e.log.Warn("global upkeep unpaid", "turn", e.turn)
	}
	for _, inst := range e.events.ExpireStale(e.turn) {
		rec.EventsExpired = append(rec.EventsExpired, inst.Kind)
		e.log.Info("choice event expired", "event", inst.Kind)
	}
}
