// Package grid owns tile and building placement. Tiles are keyed by
// coordinate; tiles and buildings carry stable integer ids so other systems
// can reference them without pointer cycles (removals stay safe and
// enumerable).
package grid

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"gridstead/internal/catalog"
)

var ErrPlacement = errors.New("placement rejected")

type Coord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type (
	TileID     int
	BuildingID int
)

type Tile struct {
	ID       TileID     `json:"id"`
	Coord    Coord      `json:"coord"`
	Terrain  string     `json:"terrain"`
	Building BuildingID `json:"building,omitempty"` // 0 => none
}

// Building is a production unit owned by exactly one tile. Its numeric
// parameters live in the catalog def; the instance tracks only mutable
// per-run state.
type Building struct {
	ID   BuildingID `json:"id"`
	Ref  string     `json:"ref"` // external reference id
	Kind string     `json:"kind"`
	Tile TileID     `json:"tile"`

	// Active is false while upkeep goes unpaid; an inactive building
	// produces nothing for the tick.
	Active bool `json:"active"`

	// SinceProduced counts ticks since the last production, for defs with
	// an interval > 1.
	SinceProduced int `json:"since_produced"`
}

// RefSource mints external reference ids for new buildings.
type RefSource func() string

// Store is the authoritative tile/building registry. All mutation is
// synchronous: a successful call is visible to the next query.
type Store struct {
	cat  *catalog.Catalog
	refs RefSource

	tiles     map[Coord]*Tile
	tilesByID map[TileID]*Tile
	buildings map[BuildingID]*Building
	order     []BuildingID // declaration order, survives removals as a filter

	nextTile     int
	nextBuilding int
}

func NewStore(cat *catalog.Catalog) *Store {
	return &Store{
		cat:       cat,
		refs:      uuid.NewString,
		tiles:     make(map[Coord]*Tile),
		tilesByID: make(map[TileID]*Tile),
		buildings: make(map[BuildingID]*Building),
	}
}

// SetRefSource replaces the default random ref minting. The engine installs
// a seeded source here so same-seed runs produce identical refs.
func (s *Store) SetRefSource(fn RefSource) {
	if fn != nil {
		s.refs = fn
	}
}

// Place creates a tile at coord. Fails if the coordinate is occupied or the
// terrain kind is unknown.
func (s *Store) Place(coord Coord, terrain string) (*Tile, error) {
	if _, ok := s.tiles[coord]; ok {
		return nil, fmt.Errorf("%w: tile exists at (%d,%d)", ErrPlacement, coord.X, coord.Y)
	}
	if _, ok := s.cat.Terrain(terrain); !ok {
		return nil, fmt.Errorf("%w: unknown terrain %q", ErrPlacement, terrain)
	}
	s.nextTile++
	t := &Tile{ID: TileID(s.nextTile), Coord: coord, Terrain: terrain}
	s.tiles[coord] = t
	s.tilesByID[t.ID] = t
	return t, nil
}

// AttachBuilding creates a building of the given kind on the tile at coord.
// Fails if the tile is missing, already holds a building, or its terrain is
// not allowed for the kind.
func (s *Store) AttachBuilding(coord Coord, kind string) (*Building, error) {
	t, ok := s.tiles[coord]
	if !ok {
		return nil, fmt.Errorf("%w: no tile at (%d,%d)", ErrPlacement, coord.X, coord.Y)
	}
	if t.Building != 0 {
		return nil, fmt.Errorf("%w: tile (%d,%d) already has a building", ErrPlacement, coord.X, coord.Y)
	}
	def, ok := s.cat.Building(kind)
	if !ok {
		return nil, fmt.Errorf("%w: unknown building kind %q", ErrPlacement, kind)
	}
	if !s.terrainAllowed(def, t.Terrain) {
		return nil, fmt.Errorf("%w: %s cannot be built on %s", ErrPlacement, kind, t.Terrain)
	}
	s.nextBuilding++
	b := &Building{
		ID:     BuildingID(s.nextBuilding),
		Ref:    s.refs(),
		Kind:   kind,
		Tile:   t.ID,
		Active: true,
	}
	s.buildings[b.ID] = b
	s.order = append(s.order, b.ID)
	t.Building = b.ID
	return b, nil
}

func (s *Store) terrainAllowed(def catalog.BuildingDef, terrain string) bool {
	if len(def.Terrains) == 0 {
		td, ok := s.cat.Terrain(terrain)
		return ok && td.Buildable
	}
	for _, t := range def.Terrains {
		if t == terrain {
			return true
		}
	}
	return false
}

// DetachBuilding removes the building on the tile at coord, keeping the
// tile. Returns the removed building so callers can release its plugins.
func (s *Store) DetachBuilding(coord Coord) (*Building, error) {
	t, ok := s.tiles[coord]
	if !ok {
		return nil, fmt.Errorf("%w: no tile at (%d,%d)", ErrPlacement, coord.X, coord.Y)
	}
	if t.Building == 0 {
		return nil, fmt.Errorf("%w: no building at (%d,%d)", ErrPlacement, coord.X, coord.Y)
	}
	b := s.buildings[t.Building]
	delete(s.buildings, t.Building)
	t.Building = 0
	return b, nil
}

// Remove destroys the tile at coord and any building on it. Tiles are never
// garbage-collected implicitly; this is the only way a tile goes away.
func (s *Store) Remove(coord Coord) (*Building, error) {
	t, ok := s.tiles[coord]
	if !ok {
		return nil, fmt.Errorf("%w: no tile at (%d,%d)", ErrPlacement, coord.X, coord.Y)
	}
	var b *Building
	if t.Building != 0 {
		b = s.buildings[t.Building]
		delete(s.buildings, t.Building)
	}
	delete(s.tiles, coord)
	delete(s.tilesByID, t.ID)
	return b, nil
}

func (s *Store) Tile(coord Coord) (*Tile, bool) {
	t, ok := s.tiles[coord]
	return t, ok
}

func (s *Store) TileByID(id TileID) (*Tile, bool) {
	t, ok := s.tilesByID[id]
	return t, ok
}

func (s *Store) Building(id BuildingID) (*Building, bool) {
	b, ok := s.buildings[id]
	return b, ok
}

// BuildingAt returns the building on the tile at coord, if any.
func (s *Store) BuildingAt(coord Coord) (*Building, bool) {
	t, ok := s.tiles[coord]
	if !ok || t.Building == 0 {
		return nil, false
	}
	b, ok := s.buildings[t.Building]
	return b, ok
}

// Neighbors returns the existing tiles in the 8-neighborhood of coord, in a
// fixed scan order (row-major around the center).
func (s *Store) Neighbors(coord Coord) []*Tile {
	out := make([]*Tile, 0, 8)
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			if t, ok := s.tiles[Coord{X: coord.X + dx, Y: coord.Y + dy}]; ok {
				out = append(out, t)
			}
		}
	}
	return out
}

// Buildings returns all buildings in declaration order (ascending id).
func (s *Store) Buildings() []*Building {
	out := make([]*Building, 0, len(s.buildings))
	for _, id := range s.order {
		if b, ok := s.buildings[id]; ok {
			out = append(out, b)
		}
	}
	return out
}

// CountByKind returns how many buildings of the given kind exist.
func (s *Store) CountByKind(kind string) int {
	n := 0
	for _, b := range s.buildings {
		if b.Kind == kind {
			n++
		}
	}
	return n
}

// Tiles returns all tiles sorted by id for deterministic enumeration.
func (s *Store) Tiles() []*Tile {
	out := make([]*Tile, 0, len(s.tiles))
	for _, t := range s.tiles {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Check verifies ownership uniqueness: every building belongs to exactly one
// tile and every occupied tile points at a live building.
func (s *Store) Check() error {
	owners := make(map[BuildingID]TileID)
	for _, t := range s.tiles {
		if t.Building == 0 {
			continue
		}
		if prev, dup := owners[t.Building]; dup {
			return fmt.Errorf("building %d owned by tiles %d and %d", t.Building, prev, t.ID)
		}
		owners[t.Building] = t.ID
		if _, ok := s.buildings[t.Building]; !ok {
			return fmt.Errorf("tile %d references missing building %d", t.ID, t.Building)
		}
	}
	for id, b := range s.buildings {
		tid, ok := owners[id]
		if !ok {
			return fmt.Errorf("building %d has no owning tile", id)
		}
		if b.Tile != tid {
			return fmt.Errorf("building %d tile mismatch: %d vs %d", id, b.Tile, tid)
		}
	}
	return nil
}

// Restore rebuilds the store from persisted tiles and buildings, fixing the
// id counters above the highest seen. Used by the persistence layer.
func (s *Store) Restore(tiles []Tile, buildings []Building) error {
	s.tiles = make(map[Coord]*Tile, len(tiles))
	s.tilesByID = make(map[TileID]*Tile, len(tiles))
	s.buildings = make(map[BuildingID]*Building, len(buildings))
	s.order = nil
	s.nextTile, s.nextBuilding = 0, 0

	for i := range tiles {
		t := tiles[i]
		if _, dup := s.tiles[t.Coord]; dup {
			return fmt.Errorf("%w: duplicate tile at (%d,%d)", ErrPlacement, t.Coord.X, t.Coord.Y)
		}
		tc := t
		s.tiles[t.Coord] = &tc
		s.tilesByID[t.ID] = &tc
		if int(t.ID) > s.nextTile {
			s.nextTile = int(t.ID)
		}
	}
	ordered := make([]Building, len(buildings))
	copy(ordered, buildings)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })
	for i := range ordered {
		b := ordered[i]
		s.buildings[b.ID] = &b
		s.order = append(s.order, b.ID)
		if int(b.ID) > s.nextBuilding {
			s.nextBuilding = int(b.ID)
		}
	}
	return s.Check()
}
