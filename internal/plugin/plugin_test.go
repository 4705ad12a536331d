package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridstead/internal/catalog"
	"gridstead/internal/grid"
	"gridstead/internal/resource"
)

func testWorld(t *testing.T) (*catalog.Catalog, *grid.Store, *Set, *grid.Building) {
	t.Helper()
	cat := &catalog.Catalog{
		Resources: []catalog.ResourceDef{{Kind: "wood"}, {Kind: "mana"}, {Kind: "gold"}},
		Terrains:  []catalog.TerrainDef{{Kind: "grass", Buildable: true}},
		Buildings: []catalog.BuildingDef{
			{Kind: "sawmill", Slots: 2, Outputs: []catalog.Cost{{Resource: "wood", Qty: 2}}},
			{Kind: "shrine", Slots: 1, Outputs: []catalog.Cost{{Resource: "mana", Qty: 1}}},
		},
		Plugins: []catalog.PluginDef{
			{Kind: "overclock", Effect: catalog.PluginEffect{Type: catalog.EffectMultiplier, Multiplier: 2}},
			{Kind: "fine_blade", Effect: catalog.PluginEffect{Type: catalog.EffectMultiplier, Multiplier: 1.5}, AttachTo: []string{"sawmill"}},
			{Kind: "gilding", Effect: catalog.PluginEffect{Type: catalog.EffectCapability, Output: catalog.Cost{Resource: "gold", Qty: 1}}},
			{Kind: "surge", Effect: catalog.PluginEffect{
				Type:       catalog.EffectConditional,
				Multiplier: 3,
				Condition:  catalog.PluginCondition{Resource: "mana", AtLeast: 5},
			}},
		},
	}
	require.NoError(t, cat.Finalize())

	store := grid.NewStore(cat)
	_, err := store.Place(grid.Coord{X: 0, Y: 0}, "grass")
	require.NoError(t, err)
	b, err := store.AttachBuilding(grid.Coord{X: 0, Y: 0}, "sawmill")
	require.NoError(t, err)

	return cat, store, NewSet(cat), b
}

func TestAttach_SlotCapacity(t *testing.T) {
	_, _, set, b := testWorld(t)

	p1, err := set.Create("overclock")
	require.NoError(t, err)
	p2, err := set.Create("overclock")
	require.NoError(t, err)
	p3, err := set.Create("overclock")
	require.NoError(t, err)

	require.NoError(t, set.Attach(b, p1.ID))
	require.NoError(t, set.Attach(b, p2.ID))

	err = set.Attach(b, p3.ID)
	assert.ErrorIs(t, err, ErrSlotFull)
	assert.Len(t, set.Attached(b.ID), 2)
}

func TestAttach_Compatibility(t *testing.T) {
	cat, store, set, _ := testWorld(t)
	_ = cat

	_, err := store.Place(grid.Coord{X: 1, Y: 0}, "grass")
	require.NoError(t, err)
	shrine, err := store.AttachBuilding(grid.Coord{X: 1, Y: 0}, "shrine")
	require.NoError(t, err)

	p, err := set.Create("fine_blade")
	require.NoError(t, err)

	err = set.Attach(shrine, p.ID)
	assert.ErrorIs(t, err, ErrIncompatible)
	assert.False(t, p.Attached())
}

func TestAttach_SingleOwner(t *testing.T) {
	_, store, set, b := testWorld(t)

	_, err := store.Place(grid.Coord{X: 1, Y: 0}, "grass")
	require.NoError(t, err)
	other, err := store.AttachBuilding(grid.Coord{X: 1, Y: 0}, "sawmill")
	require.NoError(t, err)

	p, err := set.Create("overclock")
	require.NoError(t, err)
	require.NoError(t, set.Attach(b, p.ID))

	err = set.Attach(other, p.ID)
	assert.Error(t, err)
	assert.Equal(t, b.ID, p.Building)

	require.NoError(t, set.Detach(b.ID, p.ID))
	assert.False(t, p.Attached())
	require.NoError(t, set.Attach(other, p.ID))
}

func TestEfficiency_ProductAndLazyRecompute(t *testing.T) {
	_, _, set, b := testWorld(t)
	ledger := resource.NewLedger()

	assert.Equal(t, 1.0, set.Efficiency(b.ID, ledger))

	p1, err := set.Create("overclock")
	require.NoError(t, err)
	p2, err := set.Create("fine_blade")
	require.NoError(t, err)
	require.NoError(t, set.Attach(b, p1.ID))
	require.NoError(t, set.Attach(b, p2.ID))

	assert.InDelta(t, 3.0, set.Efficiency(b.ID, ledger), 1e-9)

	// no stale cache across a detach
	require.NoError(t, set.Detach(b.ID, p2.ID))
	assert.InDelta(t, 2.0, set.Efficiency(b.ID, ledger), 1e-9)
}

func TestEfficiency_ConditionalGate(t *testing.T) {
	_, _, set, b := testWorld(t)
	ledger := resource.NewLedger()

	p, err := set.Create("surge")
	require.NoError(t, err)
	require.NoError(t, set.Attach(b, p.ID))

	assert.InDelta(t, 1.0, set.Efficiency(b.ID, ledger), 1e-9)

	ledger.Credit("mana", 5)
	assert.InDelta(t, 3.0, set.Efficiency(b.ID, ledger), 1e-9)

	ledger.Reserve("mana", 1)
	assert.InDelta(t, 1.0, set.Efficiency(b.ID, ledger), 1e-9)
}

func TestExtraOutputs_Capability(t *testing.T) {
	_, _, set, b := testWorld(t)

	p, err := set.Create("gilding")
	require.NoError(t, err)
	require.NoError(t, set.Attach(b, p.ID))

	extra := set.ExtraOutputs(b.ID)
	require.Len(t, extra, 1)
	assert.Equal(t, resource.Kind("gold"), extra[0].Kind)
	assert.Equal(t, 1, extra[0].Qty)
}

func TestReleaseAll_ReturnsToPool(t *testing.T) {
	_, _, set, b := testWorld(t)

	p1, err := set.Create("overclock")
	require.NoError(t, err)
	p2, err := set.Create("gilding")
	require.NoError(t, err)
	require.NoError(t, set.Attach(b, p1.ID))
	require.NoError(t, set.Attach(b, p2.ID))

	set.ReleaseAll(b.ID)
	assert.Empty(t, set.Attached(b.ID))
	assert.Len(t, set.Pool(), 2)
}
