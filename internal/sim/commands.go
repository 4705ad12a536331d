package sim

import (
	"fmt"

	"gridstead/internal/catalog"
	"gridstead/internal/grid"
	"gridstead/internal/plugin"
	"gridstead/internal/resource"
)

// Op names a queueable player command.
type Op string

const (
	OpPlaceTile      Op = "place_tile"
	OpPlaceBuilding  Op = "place_building"
	OpRemoveBuilding Op = "remove_building"
	OpRemoveTile     Op = "remove_tile"
	OpAttachPlugin   Op = "attach_plugin"
	OpDetachPlugin   Op = "detach_plugin"
	OpPlayCard       Op = "play_card"
	OpResolveChoice  Op = "resolve_choice"
)

// Command is one queued player action. Which fields matter depends on Op.
type Command struct {
	Op       Op         `json:"op"`
	Coord    grid.Coord `json:"coord"`
	Terrain  string     `json:"terrain,omitempty"`
	Building string     `json:"building,omitempty"` // building kind
	Card     string     `json:"card,omitempty"`     // hand card id
	Plugin   plugin.ID  `json:"plugin,omitempty"`
	Event    int        `json:"event,omitempty"`
	Option   int        `json:"option,omitempty"`
}

// Submit queues a command for the next turn. Card plays and choice
// resolutions only ever run through the queue; they are drained in their
// dedicated phases.
func (e *Engine) Submit(cmd Command) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.halted != nil {
		return e.halted
	}
	e.queue = append(e.queue, cmd)
	return nil
}

// PlaceTile creates a tile between turns.
func (e *Engine) PlaceTile(coord grid.Coord, terrain string) (*grid.Tile, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.halted != nil {
		return nil, e.halted
	}
	t, err := e.grid.Place(coord, terrain)
	if err != nil {
		return nil, err
	}
	e.publish()
	return t, nil
}

// PlaceBuilding constructs a building, paying its build cost up front. On a
// placement failure the cost is refunded untouched.
func (e *Engine) PlaceBuilding(coord grid.Coord, kind string) (*grid.Building, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.halted != nil {
		return nil, e.halted
	}
	b, err := e.placeBuilding(coord, kind)
	if err != nil {
		return nil, err
	}
	e.publish()
	return b, nil
}

func (e *Engine) placeBuilding(coord grid.Coord, kind string) (*grid.Building, error) {
	def, ok := e.cat.Building(kind)
	if !ok {
		return nil, fmt.Errorf("%w: unknown building kind %q", grid.ErrPlacement, kind)
	}
	cost := catalog.Stakes(def.BuildCost)
	if !e.ledger.ReserveAll(cost) {
		return nil, fmt.Errorf("%w: build cost for %s", ErrInsufficientResource, kind)
	}
	b, err := e.grid.AttachBuilding(coord, kind)
	if err != nil {
		for _, s := range cost {
			e.ledger.Credit(s.Kind, s.Qty)
		}
		return nil, err
	}
	return b, nil
}

// RemoveBuilding detaches the building at coord and returns its plugins to
// the pool. The tile stays.
func (e *Engine) RemoveBuilding(coord grid.Coord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.halted != nil {
		return e.halted
	}
	b, err := e.grid.DetachBuilding(coord)
	if err != nil {
		return err
	}
	e.plugins.ReleaseAll(b.ID)
	e.publish()
	return nil
}

// RemoveTile destroys the tile at coord along with any building on it.
func (e *Engine) RemoveTile(coord grid.Coord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.halted != nil {
		return e.halted
	}
	b, err := e.grid.Remove(coord)
	if err != nil {
		return err
	}
	if b != nil {
		e.plugins.ReleaseAll(b.ID)
	}
	e.publish()
	return nil
}

// CreatePlugin mints a pooled plugin instance.
func (e *Engine) CreatePlugin(kind string) (*plugin.Plugin, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.halted != nil {
		return nil, e.halted
	}
	p, err := e.plugins.Create(kind)
	if err != nil {
		return nil, err
	}
	e.publish()
	return p, nil
}

// AttachPlugin binds a pooled plugin to the building at coord.
func (e *Engine) AttachPlugin(coord grid.Coord, id plugin.ID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.halted != nil {
		return e.halted
	}
	if err := e.attachPlugin(coord, id); err != nil {
		return err
	}
	e.publish()
	return nil
}

func (e *Engine) attachPlugin(coord grid.Coord, id plugin.ID) error {
	b, ok := e.grid.BuildingAt(coord)
	if !ok {
		return fmt.Errorf("%w: no building at (%d,%d)", ErrInvalidTarget, coord.X, coord.Y)
	}
	return e.plugins.Attach(b, id)
}

// DetachPlugin returns a plugin from the building at coord to the pool.
func (e *Engine) DetachPlugin(coord grid.Coord, id plugin.ID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.halted != nil {
		return e.halted
	}
	b, ok := e.grid.BuildingAt(coord)
	if !ok {
		return fmt.Errorf("%w: no building at (%d,%d)", ErrInvalidTarget, coord.X, coord.Y)
	}
	if err := e.plugins.Detach(b.ID, id); err != nil {
		return err
	}
	e.publish()
	return nil
}

// PlayCard is only valid during the card window, which runs inside
// AdvanceTurn with the engine locked. Callers outside the turn must queue a
// play through Submit instead.
func (e *Engine) PlayCard(cardID string, coord grid.Coord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.halted != nil {
		return e.halted
	}
	if e.phase != PhaseCardWindow {
		return fmt.Errorf("%w: card plays happen in the card window", ErrPhase)
	}
	return e.playCard(cardID, coord)
}

// ResolveChoice is only valid during the resolve phase; queue it via Submit.
func (e *Engine) ResolveChoice(eventID, option int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.halted != nil {
		return e.halted
	}
	if e.phase != PhaseResolve {
		return fmt.Errorf("%w: choices resolve in the resolve phase", ErrPhase)
	}
	_, err := e.resolveChoice(eventID, option)
	return err
}

// playCard consumes a hand card and applies its payload. The card cost is
// reserved first; any payload failure refunds it and the card stays in hand.
func (e *Engine) playCard(cardID string, coord grid.Coord) error {
	c, ok := e.hand.Get(cardID)
	if !ok {
		return fmt.Errorf("%w: card %s not in hand", ErrInvalidTarget, cardID)
	}
	def, ok := e.cat.Card(c.Def)
	if !ok {
		return fmt.Errorf("%w: card def %s missing", ErrInvalidTarget, c.Def)
	}

	cost := catalog.Stakes(def.Cost)
	if !e.ledger.ReserveAll(cost) {
		return fmt.Errorf("%w: cost of card %s", ErrInsufficientResource, def.ID)
	}
	refund := func() {
		for _, s := range cost {
			e.ledger.Credit(s.Kind, s.Qty)
		}
	}

	switch def.Type {
	case catalog.CardBuilding:
		// the card cost replaces the building's usual build cost
		if _, err := e.grid.AttachBuilding(coord, def.Building); err != nil {
			refund()
			return err
		}
	case catalog.CardPlugin:
		p, err := e.plugins.Create(def.Plugin)
		if err != nil {
			refund()
			return err
		}
		// attach when the coord names a building, otherwise leave it
		// pooled; a rejected attach unwinds the whole play
		if b, ok := e.grid.BuildingAt(coord); ok {
			if err := e.plugins.Attach(b, p.ID); err != nil {
				if rmErr := e.plugins.Remove(p.ID); rmErr != nil {
					e.log.Error("could not unwind plugin play", "plugin", p.ID, "err", rmErr)
				}
				refund()
				return err
			}
		}
	case catalog.CardStrategy:
		st := def.Strategy
		line := resource.Stake{Kind: resource.Kind(st.Resource), Qty: st.Qty}
		switch st.Effect {
		case catalog.StrategyGrant:
			e.ledger.Credit(line.Kind, line.Qty)
		case catalog.StrategyDrain:
			if !e.ledger.Reserve(line.Kind, line.Qty) {
				refund()
				return fmt.Errorf("%w: strategy drain of %d %s", ErrInsufficientResource, line.Qty, line.Kind)
			}
		case catalog.StrategyPulse:
			e.pulse *= st.Multiplier
		case catalog.StrategyEvent:
			evDef, ok := e.cat.Event(st.Event)
			if !ok {
				refund()
				return fmt.Errorf("%w: card %s triggers missing event %s", ErrInvalidTarget, def.ID, st.Event)
			}
			e.applyEventEffects(evDef.Kind, evDef.Effects)
		}
	default:
		refund()
		return fmt.Errorf("%w: card %s has unplayable type %s", ErrInvalidTarget, def.ID, def.Type)
	}

	e.hand.Remove(c.ID)
	return nil
}

func (e *Engine) resolveChoice(eventID, option int) (string, error) {
	effects, err := e.events.Resolve(eventID, option)
	if err != nil {
		return "", err
	}
	inst, _ := e.events.Get(eventID)
	e.applyEventEffects(inst.Kind, effects)
	return inst.Kind, nil
}

// applyEventEffects settles an event's resource lines as one atomic batch.
// If the debits cannot be covered the whole batch fizzles; card grants apply
// either way only when the batch landed.
func (e *Engine) applyEventEffects(kind string, effects []catalog.EventEffect) {
	var batch resource.Batch
	var grants []string
	for _, eff := range effects {
		switch eff.Type {
		case catalog.EventCredit:
			batch.Credits = append(batch.Credits, resource.Stake{Kind: resource.Kind(eff.Resource), Qty: eff.Qty})
		case catalog.EventDebit:
			batch.Debits = append(batch.Debits, resource.Stake{Kind: resource.Kind(eff.Resource), Qty: eff.Qty})
		case catalog.EventGrantCard:
			grants = append(grants, eff.Card)
		}
	}
	if !e.ledger.Apply(batch) {
		e.log.Info("event effects fizzled on insufficient resources", "event", kind)
		return
	}
	for _, id := range grants {
		if _, err := e.hand.Draw(id); err != nil {
			e.log.Warn("event card grant failed", "event", kind, "card", id, "err", err)
		}
	}
}
