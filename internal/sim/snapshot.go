package sim

import (
	"gridstead/internal/grid"
	"gridstead/internal/plugin"
	"gridstead/internal/resource"
)

// Snapshot is an immutable view of the world, rebuilt at every phase
// boundary. Readers (HTTP handlers, the websocket hub) only ever see
// snapshots, never live state.
type Snapshot struct {
	Turn      int                   `json:"turn"`
	Phase     Phase                 `json:"phase"`
	Halted    bool                  `json:"halted"`
	Resources map[resource.Kind]int `json:"resources"`
	Tiles     []TileView            `json:"tiles"`
	Buildings []BuildingView        `json:"buildings"`
	Hand      []CardView            `json:"hand"`
	Events    []EventView           `json:"events"`
}

type TileView struct {
	ID       grid.TileID     `json:"id"`
	Coord    grid.Coord      `json:"coord"`
	Terrain  string          `json:"terrain"`
	Building grid.BuildingID `json:"building,omitempty"`
}

type BuildingView struct {
	ID            grid.BuildingID `json:"id"`
	Ref           string          `json:"ref"`
	Kind          string          `json:"kind"`
	Title         string          `json:"title"`
	Coord         grid.Coord      `json:"coord"`
	Active        bool            `json:"active"`
	SinceProduced int             `json:"since_produced"`
	Efficiency    float64         `json:"efficiency"`
	Plugins       []PluginView    `json:"plugins,omitempty"`
}

type PluginView struct {
	ID   plugin.ID `json:"id"`
	Kind string    `json:"kind"`
}

type CardView struct {
	ID    string `json:"id"`
	Def   string `json:"def"`
	Title string `json:"title"`
}

type EventView struct {
	ID            int      `json:"id"`
	Kind          string   `json:"kind"`
	Title         string   `json:"title"`
	TriggeredTurn int      `json:"triggered_turn"`
	Choices       []string `json:"choices,omitempty"`
}

func (e *Engine) buildSnapshot() Snapshot {
	snap := Snapshot{
		Turn:      e.turn,
		Phase:     e.phase,
		Halted:    e.halted != nil,
		Resources: e.ledger.Snapshot(),
	}

	for _, t := range e.grid.Tiles() {
		snap.Tiles = append(snap.Tiles, TileView{
			ID: t.ID, Coord: t.Coord, Terrain: t.Terrain, Building: t.Building,
		})
	}

	for _, b := range e.grid.Buildings() {
		view := BuildingView{
			ID:            b.ID,
			Ref:           b.Ref,
			Kind:          b.Kind,
			Active:        b.Active,
			SinceProduced: b.SinceProduced,
			Efficiency:    e.plugins.Efficiency(b.ID, e.ledger),
		}
		if def, ok := e.cat.Building(b.Kind); ok {
			view.Title = def.Title
		}
		if t, ok := e.grid.TileByID(b.Tile); ok {
			view.Coord = t.Coord
		}
		for _, p := range e.plugins.Attached(b.ID) {
			view.Plugins = append(view.Plugins, PluginView{ID: p.ID, Kind: p.Kind})
		}
		snap.Buildings = append(snap.Buildings, view)
	}

	for _, c := range e.hand.Cards() {
		view := CardView{ID: c.ID, Def: c.Def}
		if def, ok := e.cat.Card(c.Def); ok {
			view.Title = def.Title
		}
		snap.Hand = append(snap.Hand, view)
	}

	for _, inst := range e.events.Active() {
		view := EventView{ID: inst.ID, Kind: inst.Kind, TriggeredTurn: inst.TriggeredTurn}
		if def, ok := e.cat.Event(inst.Kind); ok {
			view.Title = def.Title
			for _, c := range def.Choices {
				view.Choices = append(view.Choices, c.Label)
			}
		}
		snap.Events = append(snap.Events, view)
	}

	return snap
}
