package sim

import (
	"fmt"

	"gridstead/internal/card"
	"gridstead/internal/catalog"
	"gridstead/internal/event"
	"gridstead/internal/grid"
	"gridstead/internal/plugin"
	"gridstead/internal/resource"
)

// Memento is the full serializable state of a run. Restoring a memento and
// replaying the same commands yields the same turns, because the RNG word is
// part of the state.
type Memento struct {
	Turn        int                   `json:"turn"`
	Seed        int64                 `json:"seed"`
	RNGState    uint64                `json:"rng_state"`
	Pulse       float64               `json:"pulse"`
	Resources   map[resource.Kind]int `json:"resources"`
	Tiles       []grid.Tile           `json:"tiles"`
	Buildings   []grid.Building       `json:"buildings"`
	Plugins     []plugin.Plugin       `json:"plugins"`
	Hand        []card.Card           `json:"hand"`
	HandCounter int                   `json:"hand_counter"`
	Events      []event.Instance      `json:"events"`
}

// Memento captures the current state. Only callable between turns.
func (e *Engine) Memento() (Memento, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != PhaseIdle {
		return Memento{}, fmt.Errorf("%w: snapshots are taken between turns", ErrPhase)
	}

	m := Memento{
		Turn:        e.turn,
		Seed:        e.seed,
		RNGState:    e.rng.State(),
		Pulse:       e.pulse,
		Resources:   e.ledger.Snapshot(),
		HandCounter: e.hand.Counter(),
		Hand:        e.hand.Cards(),
	}
	for _, t := range e.grid.Tiles() {
		m.Tiles = append(m.Tiles, *t)
	}
	for _, b := range e.grid.Buildings() {
		m.Buildings = append(m.Buildings, *b)
	}
	for _, p := range e.plugins.All() {
		m.Plugins = append(m.Plugins, *p)
	}
	for _, inst := range e.events.All() {
		m.Events = append(m.Events, *inst)
	}
	return m, nil
}

// Restore rebuilds an engine from a memento. Resource caps come from the
// catalog; stocks, grid, plugins, hand, events and the RNG word come from
// the memento.
func Restore(cat *catalog.Catalog, m Memento, opts Options) (*Engine, error) {
	opts.Seed = m.Seed
	e, err := New(cat, opts)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.ledger = resource.NewLedger()
	for _, rd := range cat.Resources {
		if rd.Cap > 0 {
			e.ledger.SetCap(resource.Kind(rd.Kind), rd.Cap)
		}
	}
	for kind, qty := range m.Resources {
		e.ledger.Credit(kind, qty)
	}

	if err := e.grid.Restore(m.Tiles, m.Buildings); err != nil {
		return nil, fmt.Errorf("restore grid: %w", err)
	}
	e.plugins.Restore(m.Plugins)
	e.hand = card.NewHand(cat)
	e.hand.Restore(m.Hand, m.HandCounter)
	e.events.Restore(m.Events)
	e.rng.SetState(m.RNGState)
	e.turn = m.Turn
	e.pulse = m.Pulse
	if e.pulse <= 0 {
		e.pulse = 1
	}
	e.halted = nil

	e.publish()
	if e.halted != nil {
		return nil, e.halted
	}
	return e, nil
}
