// Package sim is the simulation core: it owns the world state (grid,
// ledger, plugins, hand, events), resolves production each tick and drives
// the fixed per-turn phase sequence. One Engine is one game; all state is
// reached through it, never through package globals.
package sim

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"gridstead/internal/card"
	"gridstead/internal/catalog"
	"gridstead/internal/event"
	"gridstead/internal/grid"
	"gridstead/internal/plugin"
	"gridstead/internal/resource"
)

var (
	// ErrPhase means a command arrived outside its permitted phase.
	ErrPhase = errors.New("operation not permitted in current phase")

	// ErrHalted means a prior invariant violation latched the engine; no
	// further turns will run.
	ErrHalted = errors.New("simulation halted on invariant violation")

	// ErrInvalidTarget is shared with the event package so callers can
	// match either with a single errors.Is.
	ErrInvalidTarget = event.ErrInvalidTarget

	ErrInsufficientResource = resource.ErrInsufficientResource
)

// Phase is one stage of the fixed per-turn sequence.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseBegin      Phase = "begin_turn"
	PhaseProduction Phase = "production"
	PhaseEvents     Phase = "events"
	PhaseCardWindow Phase = "card_window"
	PhaseResolve    Phase = "resolve_choices"
	PhaseEnd        Phase = "end_turn"
)

// Options configure a new engine.
type Options struct {
	// Seed overrides the catalog's rules.seed when non-zero.
	Seed int64

	Logger *slog.Logger

	// Notify, when set, receives every published snapshot (phase
	// boundaries). Called synchronously; keep it cheap.
	Notify func(Snapshot)
}

type Engine struct {
	mu sync.Mutex

	cat     *catalog.Catalog
	grid    *grid.Store
	ledger  *resource.Ledger
	plugins *plugin.Set
	hand    *card.Hand
	events  *event.Pool
	rng     *RNG

	seed   int64
	turn   int
	phase  Phase
	pulse  float64 // strategy-card boost applied to the next production phase
	halted error

	queue   []Command
	latest  Snapshot
	journal []TurnRecord

	log    *slog.Logger
	notify func(Snapshot)
}

func New(cat *catalog.Catalog, opts Options) (*Engine, error) {
	if cat == nil {
		return nil, errors.New("catalog is required")
	}
	seed := opts.Seed
	if seed == 0 {
		seed = cat.Rules.Seed
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		cat:     cat,
		grid:    grid.NewStore(cat),
		ledger:  resource.NewLedger(),
		plugins: plugin.NewSet(cat),
		events:  event.NewPool(cat),
		rng:     NewRNG(seed),
		seed:    seed,
		turn:    1,
		phase:   PhaseIdle,
		pulse:   1,
		log:     logger,
		notify:  opts.Notify,
	}
	e.hand = card.NewHand(cat)

	// refs drawn from the seeded generator keep same-seed runs identical,
	// published snapshots included
	refs := func() string {
		return uuid.Must(uuid.NewRandomFromReader(e.rng)).String()
	}
	e.grid.SetRefSource(refs)
	e.plugins.SetRefSource(refs)
	e.events.SetRefSource(refs)

	for _, rd := range cat.Resources {
		if rd.Cap > 0 {
			e.ledger.SetCap(resource.Kind(rd.Kind), rd.Cap)
		}
		if rd.Initial > 0 {
			e.ledger.Credit(resource.Kind(rd.Kind), rd.Initial)
		}
	}
	for _, id := range cat.Rules.StartingHand {
		if _, err := e.hand.Draw(id); err != nil {
			return nil, fmt.Errorf("starting hand: %w", err)
		}
	}

	e.publish()
	return e, nil
}

func (e *Engine) Catalog() *catalog.Catalog { return e.cat }

func (e *Engine) Turn() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.turn
}

func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Halted reports the latched invariant violation, if any.
func (e *Engine) Halted() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.halted
}

// Snapshot returns the last published snapshot. Two calls without an
// intervening mutation return equal values.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.latest
}

// Journal returns the per-turn records so far.
func (e *Engine) Journal() []TurnRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]TurnRecord, len(e.journal))
	copy(out, e.journal)
	return out
}

// stateView adapts the engine for event trigger predicates without taking
// the engine lock (it is only used while the lock is already held).
type stateView struct{ e *Engine }

func (v stateView) Turn() int                     { return v.e.turn }
func (v stateView) Amount(k resource.Kind) int    { return v.e.ledger.Amount(k) }
func (v stateView) BuildingCount(kind string) int { return v.e.grid.CountByKind(kind) }

// publish rebuilds the read-only snapshot, verifies invariants and hands the
// snapshot to the notifier. Called at every phase boundary with the lock
// held.
func (e *Engine) publish() {
	if err := e.checkInvariants(); err != nil && e.halted == nil {
		e.halted = fmt.Errorf("%w: %v", ErrHalted, err)
		e.log.Error("invariant violation, halting simulation", "err", err)
	}
	e.latest = e.buildSnapshot()
	if e.notify != nil {
		e.notify(e.latest)
	}
}

func (e *Engine) checkInvariants() error {
	if err := e.ledger.Check(); err != nil {
		return err
	}
	if err := e.grid.Check(); err != nil {
		return err
	}
	return e.plugins.Check(e.grid)
}
