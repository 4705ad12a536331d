// Package event selects and tracks randomized, scripted and choice events.
// Trigger predicates are evaluated against the live game state each turn;
// effects are applied by the simulation engine through the same ledger/grid
// contracts every other system uses.
package event

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"gridstead/internal/catalog"
	"gridstead/internal/resource"
)

var ErrInvalidTarget = errors.New("invalid event target")

type Status string

const (
	StatusPending   Status = "pending"
	StatusTriggered Status = "triggered"
	StatusResolved  Status = "resolved"
	StatusExpired   Status = "expired"
)

// Instance is one occurrence of an event def.
type Instance struct {
	ID            int    `json:"id"`
	Ref           string `json:"ref"`
	Kind          string `json:"kind"`
	Status        Status `json:"status"`
	TriggeredTurn int    `json:"triggered_turn"`
	Choice        int    `json:"choice"` // -1 until a choice is resolved
}

// State is the read-only view trigger predicates evaluate against.
type State interface {
	Turn() int
	Amount(kind resource.Kind) int
	BuildingCount(kind string) int
}

// RNG is the deterministic random source supplied by the engine.
type RNG interface {
	Intn(n int) int
}

// Pool owns every event instance plus the per-kind refire bookkeeping.
type Pool struct {
	cat       *catalog.Catalog
	refs      func() string
	instances []*Instance
	next      int
	fired     map[string]bool // kinds resolved at least once (for Once defs)
}

func NewPool(cat *catalog.Catalog) *Pool {
	return &Pool{cat: cat, refs: uuid.NewString, fired: make(map[string]bool)}
}

// SetRefSource replaces the default random ref minting; the engine installs
// a seeded source so same-seed runs produce identical refs.
func (p *Pool) SetRefSource(fn func() string) {
	if fn != nil {
		p.refs = fn
	}
}

// TriggerResult is what one events phase produced. Immediate instances have
// had their status advanced to Triggered and must be resolved by the caller
// after applying effects; Choices stay Triggered awaiting a decision.
type TriggerResult struct {
	Immediate []*Instance
	Choices   []*Instance
}

// Trigger evaluates every def's predicate against state. Scripted and choice
// events fire whenever eligible; among eligible random events exactly one is
// picked with probability weight/sum(weights). A kind with a live instance
// does not refire, and Once kinds never refire after resolving.
func (p *Pool) Trigger(state State, rng RNG) TriggerResult {
	var res TriggerResult
	var randoms []catalog.EventDef

	for _, def := range p.cat.Events {
		if !p.eligible(def, state) {
			continue
		}
		switch def.Type {
		case catalog.EventScripted:
			res.Immediate = append(res.Immediate, p.spawn(def, state.Turn()))
		case catalog.EventChoice:
			res.Choices = append(res.Choices, p.spawn(def, state.Turn()))
		case catalog.EventRandom:
			randoms = append(randoms, def)
		}
	}

	if picked, ok := pickWeighted(randoms, rng); ok {
		res.Immediate = append(res.Immediate, p.spawn(picked, state.Turn()))
	}
	return res
}

func (p *Pool) eligible(def catalog.EventDef, state State) bool {
	if def.Once && p.fired[def.Kind] {
		return false
	}
	if p.live(def.Kind) {
		return false
	}
	trg := def.Trigger
	turn := state.Turn()
	if turn < trg.MinTurn {
		return false
	}
	if trg.MaxTurn > 0 && turn > trg.MaxTurn {
		return false
	}
	if trg.Resource != "" && state.Amount(resource.Kind(trg.Resource)) < trg.ResourceAtLeast {
		return false
	}
	if trg.BuildingKind != "" && state.BuildingCount(trg.BuildingKind) < trg.BuildingAtLeast {
		return false
	}
	return true
}

func (p *Pool) live(kind string) bool {
	for _, inst := range p.instances {
		if inst.Kind == kind && (inst.Status == StatusPending || inst.Status == StatusTriggered) {
			return true
		}
	}
	return false
}

func (p *Pool) spawn(def catalog.EventDef, turn int) *Instance {
	p.next++
	inst := &Instance{
		ID:            p.next,
		Ref:           p.refs(),
		Kind:          def.Kind,
		Status:        StatusTriggered,
		TriggeredTurn: turn,
		Choice:        -1,
	}
	p.instances = append(p.instances, inst)
	return inst
}

// pickWeighted selects one def with probability weight/sum. Non-positive
// weights count as 1 so a def without an explicit weight stays reachable.
func pickWeighted(defs []catalog.EventDef, rng RNG) (catalog.EventDef, bool) {
	if len(defs) == 0 {
		return catalog.EventDef{}, false
	}
	total := 0
	for _, d := range defs {
		total += effectiveWeight(d)
	}
	roll := rng.Intn(total)
	acc := 0
	for _, d := range defs {
		acc += effectiveWeight(d)
		if roll < acc {
			return d, true
		}
	}
	return defs[len(defs)-1], true
}

func effectiveWeight(d catalog.EventDef) int {
	if d.Weight <= 0 {
		return 1
	}
	return d.Weight
}

// MarkResolved finalizes an instance after its effects were applied.
func (p *Pool) MarkResolved(inst *Instance) {
	inst.Status = StatusResolved
	p.fired[inst.Kind] = true
}

// Resolve records a decision on a triggered choice event and returns the
// chosen branch's effects for the engine to apply.
func (p *Pool) Resolve(id, option int) ([]catalog.EventEffect, error) {
	inst, ok := p.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: event %d not found", ErrInvalidTarget, id)
	}
	if inst.Status != StatusTriggered {
		return nil, fmt.Errorf("%w: event %d is %s", ErrInvalidTarget, id, inst.Status)
	}
	def, ok := p.cat.Event(inst.Kind)
	if !ok || def.Type != catalog.EventChoice {
		return nil, fmt.Errorf("%w: event %d is not a choice event", ErrInvalidTarget, id)
	}
	if option < 0 || option >= len(def.Choices) {
		return nil, fmt.Errorf("%w: option %d out of range", ErrInvalidTarget, option)
	}
	inst.Choice = option
	p.MarkResolved(inst)
	return def.Choices[option].Effects, nil
}

// ExpireStale expires triggered choice events whose window has lapsed.
// Returns the expired instances.
func (p *Pool) ExpireStale(turn int) []*Instance {
	var out []*Instance
	for _, inst := range p.instances {
		if inst.Status != StatusTriggered {
			continue
		}
		def, ok := p.cat.Event(inst.Kind)
		if !ok || def.Type != catalog.EventChoice {
			continue
		}
		if turn-inst.TriggeredTurn >= def.ExpiryWindow() {
			inst.Status = StatusExpired
			out = append(out, inst)
		}
	}
	return out
}

func (p *Pool) Get(id int) (*Instance, bool) {
	for _, inst := range p.instances {
		if inst.ID == id {
			return inst, true
		}
	}
	return nil, false
}

// Active returns the unresolved (triggered) instances, sorted by id.
func (p *Pool) Active() []*Instance {
	var out []*Instance
	for _, inst := range p.instances {
		if inst.Status == StatusTriggered {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// All returns every instance, sorted by id.
func (p *Pool) All() []*Instance {
	out := make([]*Instance, len(p.instances))
	copy(out, p.instances)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Restore rebuilds the pool from persisted instances.
func (p *Pool) Restore(instances []Instance) {
	p.instances = nil
	p.next = 0
	p.fired = make(map[string]bool)
	for i := range instances {
		inst := instances[i]
		p.instances = append(p.instances, &inst)
		if inst.ID > p.next {
			p.next = inst.ID
		}
		if inst.Status == StatusResolved {
			p.fired[inst.Kind] = true
		}
	}
}
