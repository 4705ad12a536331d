// Package plugin implements the modifier system: plugins live in an
// unattached pool or on exactly one building, and adjust that building's
// production parameters. Effective efficiency is recomputed on every query
// so it can never go stale across attach/detach.
package plugin

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"gridstead/internal/catalog"
	"gridstead/internal/grid"
	"gridstead/internal/resource"
)

var (
	ErrSlotFull     = errors.New("building plugin slots full")
	ErrIncompatible = errors.New("plugin incompatible with building")
)

type ID int

type Plugin struct {
	ID   ID     `json:"id"`
	Ref  string `json:"ref"`
	Kind string `json:"kind"`

	// Building is 0 while the plugin sits in the unattached pool.
	Building grid.BuildingID `json:"building,omitempty"`
}

func (p Plugin) Attached() bool { return p.Building != 0 }

// Set owns every plugin instance, attached or pooled.
type Set struct {
	cat     *catalog.Catalog
	refs    func() string
	plugins map[ID]*Plugin
	next    int
}

func NewSet(cat *catalog.Catalog) *Set {
	return &Set{cat: cat, refs: uuid.NewString, plugins: make(map[ID]*Plugin)}
}

// SetRefSource replaces the default random ref minting; the engine installs
// a seeded source so same-seed runs produce identical refs.
func (s *Set) SetRefSource(fn func() string) {
	if fn != nil {
		s.refs = fn
	}
}

// Create mints an unattached plugin of the given kind.
func (s *Set) Create(kind string) (*Plugin, error) {
	if _, ok := s.cat.Plugin(kind); !ok {
		return nil, fmt.Errorf("unknown plugin kind: %s", kind)
	}
	s.next++
	p := &Plugin{ID: ID(s.next), Ref: s.refs(), Kind: kind}
	s.plugins[p.ID] = p
	return p, nil
}

// Remove deletes a pooled plugin outright. Attached plugins must be
// detached first.
func (s *Set) Remove(id ID) error {
	p, ok := s.plugins[id]
	if !ok {
		return fmt.Errorf("plugin not found: %d", id)
	}
	if p.Attached() {
		return fmt.Errorf("plugin %d is attached to building %d", id, p.Building)
	}
	delete(s.plugins, id)
	return nil
}

func (s *Set) Get(id ID) (*Plugin, bool) {
	p, ok := s.plugins[id]
	return p, ok
}

// Attach binds a pooled plugin to a building. Fails with ErrSlotFull when
// the building is at its slot capacity and ErrIncompatible when the plugin
// def does not allow the building kind.
func (s *Set) Attach(b *grid.Building, id ID) error {
	p, ok := s.plugins[id]
	if !ok {
		return fmt.Errorf("plugin not found: %d", id)
	}
	if p.Attached() {
		return fmt.Errorf("plugin %d already attached to building %d", id, p.Building)
	}
	def, ok := s.cat.Plugin(p.Kind)
	if !ok {
		return fmt.Errorf("unknown plugin kind: %s", p.Kind)
	}
	if !attachAllowed(def, b.Kind) {
		return fmt.Errorf("%w: %s on %s", ErrIncompatible, p.Kind, b.Kind)
	}
	bdef, ok := s.cat.Building(b.Kind)
	if !ok {
		return fmt.Errorf("unknown building kind: %s", b.Kind)
	}
	if len(s.Attached(b.ID)) >= bdef.Slots {
		return fmt.Errorf("%w: %s has %d slots", ErrSlotFull, b.Kind, bdef.Slots)
	}
	p.Building = b.ID
	return nil
}

// Detach returns an attached plugin to the pool.
func (s *Set) Detach(buildingID grid.BuildingID, id ID) error {
	p, ok := s.plugins[id]
	if !ok {
		return fmt.Errorf("plugin not found: %d", id)
	}
	if p.Building != buildingID {
		return fmt.Errorf("plugin %d is not attached to building %d", id, buildingID)
	}
	p.Building = 0
	return nil
}

// ReleaseAll detaches everything from a building (building removal path).
func (s *Set) ReleaseAll(buildingID grid.BuildingID) {
	for _, p := range s.plugins {
		if p.Building == buildingID {
			p.Building = 0
		}
	}
}

// Attached returns the plugins on a building, sorted by id.
func (s *Set) Attached(buildingID grid.BuildingID) []*Plugin {
	var out []*Plugin
	for _, p := range s.plugins {
		if p.Building == buildingID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Pool returns the unattached plugins, sorted by id.
func (s *Set) Pool() []*Plugin {
	var out []*Plugin
	for _, p := range s.plugins {
		if !p.Attached() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// All returns every plugin instance, sorted by id.
func (s *Set) All() []*Plugin {
	out := make([]*Plugin, 0, len(s.plugins))
	for _, p := range s.plugins {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Efficiency computes the building's effective multiplier: the product of
// the multiplier effects of attached plugins. Conditional effects count only
// while their ledger predicate holds. No caching: recomputed per query.
func (s *Set) Efficiency(buildingID grid.BuildingID, ledger *resource.Ledger) float64 {
	eff := 1.0
	for _, p := range s.Attached(buildingID) {
		def, ok := s.cat.Plugin(p.Kind)
		if !ok {
			continue
		}
		switch def.Effect.Type {
		case catalog.EffectMultiplier:
			eff *= def.Effect.Multiplier
		case catalog.EffectConditional:
			cond := def.Effect.Condition
			if ledger.Amount(resource.Kind(cond.Resource)) >= cond.AtLeast {
				eff *= def.Effect.Multiplier
			}
		}
	}
	return eff
}

// ExtraOutputs returns output lines added by capability plugins on the
// building, in attachment id order.
func (s *Set) ExtraOutputs(buildingID grid.BuildingID) []resource.Stake {
	var out []resource.Stake
	for _, p := range s.Attached(buildingID) {
		def, ok := s.cat.Plugin(p.Kind)
		if !ok || def.Effect.Type != catalog.EffectCapability {
			continue
		}
		o := def.Effect.Output
		if o.Qty > 0 {
			out = append(out, resource.Stake{Kind: resource.Kind(o.Resource), Qty: o.Qty})
		}
	}
	return out
}

// Check verifies attachment uniqueness against the grid: every attached
// plugin points at a live building.
func (s *Set) Check(store *grid.Store) error {
	for _, p := range s.plugins {
		if !p.Attached() {
			continue
		}
		if _, ok := store.Building(p.Building); !ok {
			return fmt.Errorf("plugin %d attached to missing building %d", p.ID, p.Building)
		}
	}
	return nil
}

// Restore rebuilds the set from persisted plugins.
func (s *Set) Restore(plugins []Plugin) {
	s.plugins = make(map[ID]*Plugin, len(plugins))
	s.next = 0
	for i := range plugins {
		p := plugins[i]
		s.plugins[p.ID] = &p
		if int(p.ID) > s.next {
			s.next = int(p.ID)
		}
	}
}

func attachAllowed(def catalog.PluginDef, buildingKind string) bool {
	if len(def.AttachTo) == 0 {
		return true
	}
	for _, k := range def.AttachTo {
		if k == buildingKind {
			return true
		}
	}
	return false
}
