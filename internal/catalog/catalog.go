// Package catalog holds the immutable data definitions the simulation core
// is parameterized by: resource kinds, terrains, building/plugin/card/event
// defs and global rules. It is loaded once at startup and treated as
// read-only afterwards.
package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"gridstead/internal/resource"
)

// Cost is a resource requirement line as written in the catalog file.
type Cost struct {
	Resource string `yaml:"resource" json:"resource"`
	Qty      int    `yaml:"qty" json:"qty"`
}

// Stakes converts catalog cost lines into ledger stakes.
func Stakes(costs []Cost) []resource.Stake {
	out := make([]resource.Stake, 0, len(costs))
	for _, c := range costs {
		out = append(out, resource.Stake{Kind: resource.Kind(c.Resource), Qty: c.Qty})
	}
	return out
}

type ResourceDef struct {
	Kind    string `yaml:"kind" json:"kind"`
	Cap     int    `yaml:"cap" json:"cap"`         // 0 => uncapped
	Initial int    `yaml:"initial" json:"initial"` // starting stock
}

type TerrainDef struct {
	Kind      string `yaml:"kind" json:"kind"`
	Buildable bool   `yaml:"buildable" json:"buildable"`
}

type BuildingDef struct {
	Kind      string   `yaml:"kind" json:"kind"`
	Title     string   `yaml:"title" json:"title"`
	Terrains  []string `yaml:"terrains" json:"terrains"` // empty => any buildable terrain
	Slots     int      `yaml:"slots" json:"slots"`       // plugin capacity
	Interval  int      `yaml:"interval" json:"interval"` // produce every N turns; 0 treated as 1
	BuildCost []Cost   `yaml:"build_cost" json:"build_cost"`
	Upkeep    []Cost   `yaml:"upkeep" json:"upkeep"`
	Inputs    []Cost   `yaml:"inputs" json:"inputs"`
	Outputs   []Cost   `yaml:"outputs" json:"outputs"`
}

// EffectInterval returns the production interval with the zero value
// normalized to every turn.
func (d BuildingDef) EffectInterval() int {
	if d.Interval < 1 {
		return 1
	}
	return d.Interval
}

// Plugin effect kinds form a closed set dispatched in internal/plugin.
const (
	EffectMultiplier  = "multiplier"
	EffectCapability  = "capability"
	EffectConditional = "conditional"
)

type PluginCondition struct {
	Resource string `yaml:"resource" json:"resource"`
	AtLeast  int    `yaml:"at_least" json:"at_least"`
}

type PluginEffect struct {
	Type       string          `yaml:"type" json:"type"`
	Multiplier float64         `yaml:"multiplier" json:"multiplier"` // multiplier/conditional
	Output     Cost            `yaml:"output" json:"output"`         // capability: added output line
	Condition  PluginCondition `yaml:"condition" json:"condition"`   // conditional gate
}

type PluginDef struct {
	Kind     string       `yaml:"kind" json:"kind"`
	Title    string       `yaml:"title" json:"title"`
	Effect   PluginEffect `yaml:"effect" json:"effect"`
	AttachTo []string     `yaml:"attach_to" json:"attach_to"` // empty => any building kind
}

// Card payload kinds form a closed set dispatched in internal/sim.
const (
	CardBuilding = "building"
	CardPlugin   = "plugin"
	CardStrategy = "strategy"
)

// Strategy effect kinds.
const (
	StrategyGrant = "grant"
	StrategyDrain = "drain"
	StrategyPulse = "pulse"         // multiplies all efficiency next production phase
	StrategyEvent = "trigger_event" // fires a named event's effects immediately
)

type StrategyEffect struct {
	Effect     string  `yaml:"effect" json:"effect"`
	Resource   string  `yaml:"resource" json:"resource"`
	Qty        int     `yaml:"qty" json:"qty"`
	Multiplier float64 `yaml:"multiplier" json:"multiplier"` // pulse
	Event      string  `yaml:"event" json:"event"`           // trigger_event
}

type CardDef struct {
	ID       string         `yaml:"id" json:"id"`
	Type     string         `yaml:"type" json:"type"`
	Title    string         `yaml:"title" json:"title"`
	Cost     []Cost         `yaml:"cost" json:"cost"`
	Building string         `yaml:"building" json:"building"` // building payload
	Plugin   string         `yaml:"plugin" json:"plugin"`     // plugin payload
	Strategy StrategyEffect `yaml:"strategy" json:"strategy"` // strategy payload
}

// Event kinds form a closed set.
const (
	EventRandom   = "random"
	EventScripted = "scripted"
	EventChoice   = "choice"
)

// Event effect kinds.
const (
	EventCredit    = "credit"
	EventDebit     = "debit"
	EventGrantCard = "grant_card"
)

type EventTrigger struct {
	MinTurn          int    `yaml:"min_turn" json:"min_turn"`
	MaxTurn          int    `yaml:"max_turn" json:"max_turn"` // 0 => open-ended
	Resource         string `yaml:"resource" json:"resource"`
	ResourceAtLeast  int    `yaml:"resource_at_least" json:"resource_at_least"`
	BuildingKind     string `yaml:"building_kind" json:"building_kind"`
	BuildingAtLeast  int    `yaml:"building_at_least" json:"building_at_least"`
}

type EventEffect struct {
	Type     string `yaml:"type" json:"type"`
	Resource string `yaml:"resource" json:"resource"`
	Qty      int    `yaml:"qty" json:"qty"`
	Card     string `yaml:"card" json:"card"` // grant_card payload
}

type EventChoiceOption struct {
	Label   string        `yaml:"label" json:"label"`
	Effects []EventEffect `yaml:"effects" json:"effects"`
}

type EventDef struct {
	Kind    string              `yaml:"kind" json:"kind"`
	Type    string              `yaml:"type" json:"type"`
	Title   string              `yaml:"title" json:"title"`
	Weight  int                 `yaml:"weight" json:"weight"` // random selection weight
	Window  int                 `yaml:"window" json:"window"` // choice: turns before expiry; 0 => 1
	Once    bool                `yaml:"once" json:"once"`     // never refires after resolving
	Trigger EventTrigger        `yaml:"trigger" json:"trigger"`
	Effects []EventEffect       `yaml:"effects" json:"effects"` // random/scripted
	Choices []EventChoiceOption `yaml:"choices" json:"choices"` // choice branches
}

// ExpiryWindow returns the choice window with the zero value normalized.
func (d EventDef) ExpiryWindow() int {
	if d.Window < 1 {
		return 1
	}
	return d.Window
}

type Rules struct {
	GlobalUpkeep []Cost   `yaml:"global_upkeep" json:"global_upkeep"`
	StartingHand []string `yaml:"starting_hand" json:"starting_hand"`
	Seed         int64    `yaml:"seed" json:"seed"`
}

type Catalog struct {
	Version   string        `yaml:"version" json:"version"`
	Resources []ResourceDef `yaml:"resources" json:"resources"`
	Terrains  []TerrainDef  `yaml:"terrains" json:"terrains"`
	Buildings []BuildingDef `yaml:"buildings" json:"buildings"`
	Plugins   []PluginDef   `yaml:"plugins" json:"plugins"`
	Cards     []CardDef     `yaml:"cards" json:"cards"`
	Events    []EventDef    `yaml:"events" json:"events"`
	Rules     Rules         `yaml:"rules" json:"rules"`

	resources map[string]ResourceDef
	terrains  map[string]TerrainDef
	buildings map[string]BuildingDef
	plugins   map[string]PluginDef
	cards     map[string]CardDef
	events    map[string]EventDef
}

// Load reads and validates a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := cat.Finalize(); err != nil {
		return nil, err
	}
	return &cat, nil
}

// Finalize builds the lookup indexes and validates cross-references. Tests
// that construct catalogs in Go call this directly.
func (c *Catalog) Finalize() error {
	c.resources = make(map[string]ResourceDef, len(c.Resources))
	for _, d := range c.Resources {
		if _, dup := c.resources[d.Kind]; dup {
			return fmt.Errorf("duplicate resource kind: %s", d.Kind)
		}
		c.resources[d.Kind] = d
	}
	c.terrains = make(map[string]TerrainDef, len(c.Terrains))
	for _, d := range c.Terrains {
		if _, dup := c.terrains[d.Kind]; dup {
			return fmt.Errorf("duplicate terrain kind: %s", d.Kind)
		}
		c.terrains[d.Kind] = d
	}
	c.buildings = make(map[string]BuildingDef, len(c.Buildings))
	for _, d := range c.Buildings {
		if _, dup := c.buildings[d.Kind]; dup {
			return fmt.Errorf("duplicate building kind: %s", d.Kind)
		}
		for _, t := range d.Terrains {
			if _, ok := c.terrains[t]; !ok {
				return fmt.Errorf("building %s references unknown terrain %s", d.Kind, t)
			}
		}
		if err := c.checkCosts(d.Kind, d.BuildCost, d.Upkeep, d.Inputs, d.Outputs); err != nil {
			return err
		}
		c.buildings[d.Kind] = d
	}
	c.plugins = make(map[string]PluginDef, len(c.Plugins))
	for _, d := range c.Plugins {
		if _, dup := c.plugins[d.Kind]; dup {
			return fmt.Errorf("duplicate plugin kind: %s", d.Kind)
		}
		switch d.Effect.Type {
		case EffectMultiplier, EffectConditional:
			if d.Effect.Multiplier <= 0 {
				return fmt.Errorf("plugin %s needs a positive multiplier", d.Kind)
			}
		case EffectCapability:
		default:
			return fmt.Errorf("plugin %s has unknown effect type %q", d.Kind, d.Effect.Type)
		}
		for _, b := range d.AttachTo {
			if _, ok := c.buildings[b]; !ok {
				return fmt.Errorf("plugin %s attaches to unknown building %s", d.Kind, b)
			}
		}
		c.plugins[d.Kind] = d
	}
	c.cards = make(map[string]CardDef, len(c.Cards))
	for _, d := range c.Cards {
		if _, dup := c.cards[d.ID]; dup {
			return fmt.Errorf("duplicate card id: %s", d.ID)
		}
		switch d.Type {
		case CardBuilding:
			if _, ok := c.buildings[d.Building]; !ok {
				return fmt.Errorf("card %s references unknown building %s", d.ID, d.Building)
			}
		case CardPlugin:
			if _, ok := c.plugins[d.Plugin]; !ok {
				return fmt.Errorf("card %s references unknown plugin %s", d.ID, d.Plugin)
			}
		case CardStrategy:
			switch d.Strategy.Effect {
			case StrategyGrant, StrategyDrain:
			case StrategyPulse:
				if d.Strategy.Multiplier <= 0 {
					return fmt.Errorf("pulse card %s needs a positive multiplier", d.ID)
				}
			case StrategyEvent:
				// the events map is built after cards; checked below
			default:
				return fmt.Errorf("card %s has unknown strategy effect %q", d.ID, d.Strategy.Effect)
			}
		default:
			return fmt.Errorf("card %s has unknown type %q", d.ID, d.Type)
		}
		c.cards[d.ID] = d
	}
	c.events = make(map[string]EventDef, len(c.Events))
	for _, d := range c.Events {
		if _, dup := c.events[d.Kind]; dup {
			return fmt.Errorf("duplicate event kind: %s", d.Kind)
		}
		switch d.Type {
		case EventRandom, EventScripted:
			if len(d.Choices) > 0 {
				return fmt.Errorf("event %s is %s but declares choices", d.Kind, d.Type)
			}
		case EventChoice:
			if len(d.Choices) == 0 {
				return fmt.Errorf("choice event %s has no choices", d.Kind)
			}
		default:
			return fmt.Errorf("event %s has unknown type %q", d.Kind, d.Type)
		}
		c.events[d.Kind] = d
	}
	for _, d := range c.Cards {
		if d.Type == CardStrategy && d.Strategy.Effect == StrategyEvent {
			if _, ok := c.events[d.Strategy.Event]; !ok {
				return fmt.Errorf("card %s triggers unknown event %s", d.ID, d.Strategy.Event)
			}
		}
	}
	for _, id := range c.Rules.StartingHand {
		if _, ok := c.cards[id]; !ok {
			return fmt.Errorf("starting hand references unknown card %s", id)
		}
	}
	return nil
}

func (c *Catalog) checkCosts(owner string, lists ...[]Cost) error {
	for _, list := range lists {
		for _, cost := range list {
			if _, ok := c.resources[cost.Resource]; !ok {
				return fmt.Errorf("%s references unknown resource %s", owner, cost.Resource)
			}
			if cost.Qty < 0 {
				return fmt.Errorf("%s has negative quantity for %s", owner, cost.Resource)
			}
		}
	}
	return nil
}

func (c *Catalog) Resource(kind string) (ResourceDef, bool) {
	d, ok := c.resources[kind]
	return d, ok
}

func (c *Catalog) Terrain(kind string) (TerrainDef, bool) {
	d, ok := c.terrains[kind]
	return d, ok
}

func (c *Catalog) Building(kind string) (BuildingDef, bool) {
	d, ok := c.buildings[kind]
	return d, ok
}

func (c *Catalog) Plugin(kind string) (PluginDef, bool) {
	d, ok := c.plugins[kind]
	return d, ok
}

func (c *Catalog) Card(id string) (CardDef, bool) {
	d, ok := c.cards[id]
	return d, ok
}

func (c *Catalog) Event(kind string) (EventDef, bool) {
	d, ok := c.events[kind]
	return d, ok
}
