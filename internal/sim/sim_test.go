package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridstead/internal/catalog"
	"gridstead/internal/grid"
	"gridstead/internal/plugin"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat := &catalog.Catalog{
		Resources: []catalog.ResourceDef{
			{Kind: "wood"},
			{Kind: "ore", Initial: 2},
			{Kind: "metal"},
			{Kind: "gold", Initial: 10},
			{Kind: "food", Cap: 20},
			{Kind: "mana"},
		},
		Terrains: []catalog.TerrainDef{
			{Kind: "plains", Buildable: true},
			{Kind: "water"},
		},
		Buildings: []catalog.BuildingDef{
			{Kind: "sawmill", Slots: 2, Outputs: []catalog.Cost{{Resource: "wood", Qty: 2}}},
			{Kind: "smelter", Inputs: []catalog.Cost{{Resource: "ore", Qty: 5}}, Outputs: []catalog.Cost{{Resource: "metal", Qty: 5}}},
			{Kind: "quarry", Outputs: []catalog.Cost{{Resource: "ore", Qty: 5}}},
			{Kind: "mine", Interval: 2, Outputs: []catalog.Cost{{Resource: "ore", Qty: 3}}},
			{Kind: "shrine", Upkeep: []catalog.Cost{{Resource: "mana", Qty: 1}}, Outputs: []catalog.Cost{{Resource: "gold", Qty: 1}}},
			{Kind: "orchard", Outputs: []catalog.Cost{{Resource: "food", Qty: 30}}},
		},
		Plugins: []catalog.PluginDef{
			{Kind: "saw_blade", Effect: catalog.PluginEffect{Type: catalog.EffectMultiplier, Multiplier: 2}, AttachTo: []string{"sawmill"}},
			{Kind: "gilded_gear", Effect: catalog.PluginEffect{
				Type: catalog.EffectConditional, Multiplier: 3,
				Condition: catalog.PluginCondition{Resource: "gold", AtLeast: 5},
			}},
			{Kind: "press", Effect: catalog.PluginEffect{
				Type:   catalog.EffectCapability,
				Output: catalog.Cost{Resource: "gold", Qty: 1},
			}},
		},
		Cards: []catalog.CardDef{
			{ID: "costly_charter", Type: catalog.CardStrategy, Cost: []catalog.Cost{{Resource: "gold", Qty: 100}},
				Strategy: catalog.StrategyEffect{Effect: catalog.StrategyGrant, Resource: "wood", Qty: 5}},
			{ID: "windfall", Type: catalog.CardStrategy,
				Strategy: catalog.StrategyEffect{Effect: catalog.StrategyGrant, Resource: "gold", Qty: 5}},
			{ID: "sawmill_writ", Type: catalog.CardBuilding, Building: "sawmill",
				Cost: []catalog.Cost{{Resource: "gold", Qty: 2}}},
			{ID: "overdrive", Type: catalog.CardStrategy,
				Strategy: catalog.StrategyEffect{Effect: catalog.StrategyPulse, Multiplier: 2}},
			{ID: "blade_kit", Type: catalog.CardPlugin, Plugin: "saw_blade",
				Cost: []catalog.Cost{{Resource: "gold", Qty: 3}}},
		},
		Rules: catalog.Rules{
			StartingHand: []string{"costly_charter", "windfall", "sawmill_writ", "overdrive", "blade_kit"},
			Seed:         7,
		},
	}
	require.NoError(t, cat.Finalize())
	return cat
}

func eventCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat := &catalog.Catalog{
		Resources: []catalog.ResourceDef{{Kind: "gold", Initial: 10}, {Kind: "wood"}},
		Terrains:  []catalog.TerrainDef{{Kind: "plains", Buildable: true}},
		Buildings: []catalog.BuildingDef{
			{Kind: "sawmill", Outputs: []catalog.Cost{{Resource: "wood", Qty: 2}}},
		},
		Events: []catalog.EventDef{
			{
				Kind: "founding", Type: catalog.EventScripted, Once: true,
				Effects: []catalog.EventEffect{{Type: catalog.EventCredit, Resource: "wood", Qty: 1}},
			},
			{
				Kind: "gale", Type: catalog.EventRandom, Weight: 3,
				Trigger: catalog.EventTrigger{Resource: "wood", ResourceAtLeast: 10},
				Effects: []catalog.EventEffect{{Type: catalog.EventDebit, Resource: "wood", Qty: 1}},
			},
			{
				Kind: "traders", Type: catalog.EventRandom, Weight: 1,
				Effects: []catalog.EventEffect{{Type: catalog.EventCredit, Resource: "gold", Qty: 2}},
			},
			{
				Kind: "stranger", Type: catalog.EventChoice, Window: 2,
				Trigger: catalog.EventTrigger{Resource: "gold", ResourceAtLeast: 5},
				Choices: []catalog.EventChoiceOption{
					{Label: "pay", Effects: []catalog.EventEffect{{Type: catalog.EventDebit, Resource: "gold", Qty: 5}}},
					{Label: "refuse"},
				},
			},
		},
		Cards: []catalog.CardDef{
			{ID: "war_horn", Type: catalog.CardStrategy,
				Strategy: catalog.StrategyEffect{Effect: catalog.StrategyEvent, Event: "founding"}},
		},
		Rules: catalog.Rules{Seed: 99, StartingHand: []string{"war_horn"}},
	}
	require.NoError(t, cat.Finalize())
	return cat
}

func mustEngine(t *testing.T, cat *catalog.Catalog) *Engine {
	t.Helper()
	e, err := New(cat, Options{})
	require.NoError(t, err)
	return e
}

func place(t *testing.T, e *Engine, x, y int, kind string) *grid.Building {
	t.Helper()
	coord := grid.Coord{X: x, Y: y}
	_, err := e.PlaceTile(coord, "plains")
	require.NoError(t, err)
	b, err := e.PlaceBuilding(coord, kind)
	require.NoError(t, err)
	return b
}

func TestAdvanceTurn_PhaseSequence(t *testing.T) {
	var phases []Phase
	e, err := New(testCatalog(t), Options{Notify: func(s Snapshot) { phases = append(phases, s.Phase) }})
	require.NoError(t, err)

	phases = nil
	_, err = e.AdvanceTurn()
	require.NoError(t, err)

	assert.Equal(t, []Phase{
		PhaseBegin, PhaseProduction, PhaseEvents,
		PhaseCardWindow, PhaseResolve, PhaseEnd, PhaseIdle,
	}, phases)
	assert.Equal(t, 2, e.Turn())
}

func TestProduction_SawmillOutputsPerTurn(t *testing.T) {
	e := mustEngine(t, testCatalog(t))
	place(t, e, 0, 0, "sawmill")

	rec, err := e.AdvanceTurn()
	require.NoError(t, err)
	assert.Equal(t, 2, e.Snapshot().Resources["wood"])
	assert.Equal(t, 2, rec.Produced["wood"])

	_, err = e.AdvanceTurn()
	require.NoError(t, err)
	assert.Equal(t, 4, e.Snapshot().Resources["wood"])
}

func TestProduction_ShortageScalesDownAndFloors(t *testing.T) {
	e := mustEngine(t, testCatalog(t))
	place(t, e, 0, 0, "smelter")

	// 2 of 5 ore on hand: consume the 2, output floor(5 * 2/5) = 2
	rec, err := e.AdvanceTurn()
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Consumed["ore"])
	assert.Equal(t, 2, rec.Produced["metal"])
	assert.Equal(t, 0, e.Snapshot().Resources["ore"])
	assert.Equal(t, 2, e.Snapshot().Resources["metal"])
}

func TestProduction_ProducerRunsBeforeAdjacentConsumer(t *testing.T) {
	e := mustEngine(t, testCatalog(t))
	place(t, e, 0, 0, "smelter") // lower id: declaration order alone would starve it
	place(t, e, 1, 0, "quarry")

	_, err := e.AdvanceTurn()
	require.NoError(t, err)

	// quarry's 5 ore land before the smelter runs: full-ratio production
	snap := e.Snapshot()
	assert.Equal(t, 5, snap.Resources["metal"])
	assert.Equal(t, 2, snap.Resources["ore"])
}

func TestProduction_IntervalGatesOutput(t *testing.T) {
	e := mustEngine(t, testCatalog(t))
	place(t, e, 0, 0, "mine")

	_, err := e.AdvanceTurn()
	require.NoError(t, err)
	assert.Equal(t, 2, e.Snapshot().Resources["ore"], "interval 2: nothing on the first tick")

	_, err = e.AdvanceTurn()
	require.NoError(t, err)
	assert.Equal(t, 5, e.Snapshot().Resources["ore"])
}

func TestProduction_UpkeepFailureIdlesBuilding(t *testing.T) {
	e := mustEngine(t, testCatalog(t))
	b := place(t, e, 0, 0, "shrine")

	rec, err := e.AdvanceTurn()
	require.NoError(t, err)

	assert.Contains(t, rec.InactiveBuildings, b.ID)
	assert.Equal(t, 10, e.Snapshot().Resources["gold"], "idle building produces nothing")
	require.Len(t, e.Snapshot().Buildings, 1)
	assert.False(t, e.Snapshot().Buildings[0].Active)
}

func TestProduction_CapClampsCredits(t *testing.T) {
	e := mustEngine(t, testCatalog(t))
	place(t, e, 0, 0, "orchard")

	rec, err := e.AdvanceTurn()
	require.NoError(t, err)
	assert.Equal(t, 20, e.Snapshot().Resources["food"])
	assert.Equal(t, 20, rec.Produced["food"], "only the clamped amount counts as produced")
}

func TestPlugins_MultiplierScalesOutputs(t *testing.T) {
	e := mustEngine(t, testCatalog(t))
	place(t, e, 0, 0, "sawmill")

	p, err := e.CreatePlugin("saw_blade")
	require.NoError(t, err)
	require.NoError(t, e.AttachPlugin(grid.Coord{X: 0, Y: 0}, p.ID))

	_, err = e.AdvanceTurn()
	require.NoError(t, err)
	assert.Equal(t, 4, e.Snapshot().Resources["wood"])
}

func TestPlugins_ConditionalAndCapability(t *testing.T) {
	e := mustEngine(t, testCatalog(t))
	place(t, e, 0, 0, "sawmill")

	gear, err := e.CreatePlugin("gilded_gear")
	require.NoError(t, err)
	require.NoError(t, e.AttachPlugin(grid.Coord{X: 0, Y: 0}, gear.ID))
	press, err := e.CreatePlugin("press")
	require.NoError(t, err)
	require.NoError(t, e.AttachPlugin(grid.Coord{X: 0, Y: 0}, press.ID))

	_, err = e.AdvanceTurn()
	require.NoError(t, err)
	snap := e.Snapshot()
	assert.Equal(t, 6, snap.Resources["wood"], "conditional x3 holds while gold >= 5")
	assert.Equal(t, 11, snap.Resources["gold"], "capability adds an output line")
}

func TestPlugins_ThirdAttachIsSlotFull(t *testing.T) {
	e := mustEngine(t, testCatalog(t))
	place(t, e, 0, 0, "sawmill")
	coord := grid.Coord{X: 0, Y: 0}

	for i := 0; i < 2; i++ {
		p, err := e.CreatePlugin("saw_blade")
		require.NoError(t, err)
		require.NoError(t, e.AttachPlugin(coord, p.ID))
	}
	third, err := e.CreatePlugin("saw_blade")
	require.NoError(t, err)
	err = e.AttachPlugin(coord, third.ID)
	assert.ErrorIs(t, err, plugin.ErrSlotFull)
}

func TestCards_InsufficientCostLeavesStateUnchanged(t *testing.T) {
	e := mustEngine(t, testCatalog(t))

	// costly_charter wants 100 gold; we hold 10
	require.NoError(t, e.Submit(Command{Op: OpPlayCard, Card: "card_1"}))
	rec, err := e.AdvanceTurn()
	require.NoError(t, err)

	require.Len(t, rec.CommandErrors, 1)
	assert.Empty(t, rec.CardsPlayed)
	assert.Equal(t, 10, e.Snapshot().Resources["gold"])
	assert.Len(t, e.Snapshot().Hand, 5, "failed play keeps the card in hand")
}

func TestCards_BuildingCardPlacesThroughQueue(t *testing.T) {
	e := mustEngine(t, testCatalog(t))
	coord := grid.Coord{X: 0, Y: 0}
	_, err := e.PlaceTile(coord, "plains")
	require.NoError(t, err)

	require.NoError(t, e.Submit(Command{Op: OpPlayCard, Card: "card_3", Coord: coord}))
	rec, err := e.AdvanceTurn()
	require.NoError(t, err)

	assert.Equal(t, []string{"card_3"}, rec.CardsPlayed)
	assert.Equal(t, 8, e.Snapshot().Resources["gold"], "card cost replaces the build cost")
	require.Len(t, e.Snapshot().Buildings, 1)
	assert.Equal(t, "sawmill", e.Snapshot().Buildings[0].Kind)
	assert.Len(t, e.Snapshot().Hand, 4)

	// built during the card window, after production: first output next turn
	assert.Equal(t, 0, e.Snapshot().Resources["wood"])
	_, err = e.AdvanceTurn()
	require.NoError(t, err)
	assert.Equal(t, 2, e.Snapshot().Resources["wood"])
}

func TestCards_PluginCardIncompatibleTargetUnwinds(t *testing.T) {
	e := mustEngine(t, testCatalog(t))
	place(t, e, 0, 0, "smelter") // saw_blade only attaches to sawmills

	require.NoError(t, e.Submit(Command{Op: OpPlayCard, Card: "card_5", Coord: grid.Coord{X: 0, Y: 0}}))
	rec, err := e.AdvanceTurn()
	require.NoError(t, err)

	require.Len(t, rec.CommandErrors, 1)
	assert.Contains(t, rec.CommandErrors[0], "incompatible")
	assert.Empty(t, rec.CardsPlayed)
	assert.Equal(t, 10, e.Snapshot().Resources["gold"], "rejected play refunds the cost")
	assert.Len(t, e.Snapshot().Hand, 5, "rejected play keeps the card")

	// the same card still plays onto a compatible target
	place(t, e, 2, 2, "sawmill")
	require.NoError(t, e.Submit(Command{Op: OpPlayCard, Card: "card_5", Coord: grid.Coord{X: 2, Y: 2}}))
	rec, err = e.AdvanceTurn()
	require.NoError(t, err)

	assert.Equal(t, []string{"card_5"}, rec.CardsPlayed)
	assert.Equal(t, 7, e.Snapshot().Resources["gold"])
	assert.Len(t, e.Snapshot().Hand, 4)
	for _, b := range e.Snapshot().Buildings {
		if b.Kind == "sawmill" {
			require.Len(t, b.Plugins, 1)
			assert.Equal(t, "saw_blade", b.Plugins[0].Kind)
		}
	}
}

func TestCards_PulseBoostsNextProductionOnly(t *testing.T) {
	e := mustEngine(t, testCatalog(t))
	place(t, e, 0, 0, "sawmill")

	// played in turn 1's card window, after production: boosts turn 2
	require.NoError(t, e.Submit(Command{Op: OpPlayCard, Card: "card_4"}))
	_, err := e.AdvanceTurn()
	require.NoError(t, err)
	assert.Equal(t, 2, e.Snapshot().Resources["wood"])

	_, err = e.AdvanceTurn()
	require.NoError(t, err)
	assert.Equal(t, 6, e.Snapshot().Resources["wood"], "pulse doubles one phase")

	_, err = e.AdvanceTurn()
	require.NoError(t, err)
	assert.Equal(t, 8, e.Snapshot().Resources["wood"], "pulse does not linger")
}

func TestCards_TriggerEventAppliesEffects(t *testing.T) {
	e := mustEngine(t, eventCatalog(t))

	require.NoError(t, e.Submit(Command{Op: OpPlayCard, Card: "card_1"}))
	rec, err := e.AdvanceTurn()
	require.NoError(t, err)

	assert.Equal(t, []string{"card_1"}, rec.CardsPlayed)
	// founding fires once as a scripted event and once from the card
	assert.Equal(t, 2, e.Snapshot().Resources["wood"])
	assert.Empty(t, e.Snapshot().Hand)
}

func TestPlayCard_OutsideWindowIsPhaseError(t *testing.T) {
	e := mustEngine(t, testCatalog(t))

	err := e.PlayCard("card_2", grid.Coord{})
	assert.ErrorIs(t, err, ErrPhase)

	err = e.ResolveChoice(1, 0)
	assert.ErrorIs(t, err, ErrPhase)
}

func TestEvents_ChoiceResolvedThroughQueue(t *testing.T) {
	e := mustEngine(t, eventCatalog(t))

	// founding spawns id 1, stranger (choice) id 2, the random pick id 3
	require.NoError(t, e.Submit(Command{Op: OpResolveChoice, Event: 2}))
	rec, err := e.AdvanceTurn()
	require.NoError(t, err)

	assert.Contains(t, rec.EventsTriggered, "stranger")
	assert.Contains(t, rec.EventsResolved, "stranger")
	assert.Empty(t, e.Snapshot().Events, "no open choices left")
}

func TestEvents_UnresolvedChoiceExpires(t *testing.T) {
	e := mustEngine(t, eventCatalog(t))

	rec, err := e.AdvanceTurn()
	require.NoError(t, err)
	require.Contains(t, rec.EventsTriggered, "stranger")
	assert.Empty(t, rec.EventsExpired)

	rec, err = e.AdvanceTurn()
	require.NoError(t, err)
	assert.Empty(t, rec.EventsExpired, "still inside the window")

	rec, err = e.AdvanceTurn()
	require.NoError(t, err)
	assert.Contains(t, rec.EventsExpired, "stranger", "window of 2 turns lapsed")
}

func TestDeterminism_SameSeedSameRun(t *testing.T) {
	run := func() (*Engine, []TurnRecord) {
		e := mustEngine(t, eventCatalog(t))
		place(t, e, 0, 0, "sawmill")
		for i := 0; i < 5; i++ {
			if _, err := e.AdvanceTurn(); err != nil {
				t.Fatalf("turn %d: %v", i+1, err)
			}
		}
		return e, e.Journal()
	}

	a, ja := run()
	b, jb := run()
	assert.Equal(t, ja, jb)
	// full equality, refs included: they are minted from the seeded rng
	assert.Equal(t, a.Snapshot(), b.Snapshot())
	require.NotEmpty(t, a.Snapshot().Buildings)
	assert.NotEmpty(t, a.Snapshot().Buildings[0].Ref)
}

func TestMemento_RestoreContinuesIdentically(t *testing.T) {
	orig := mustEngine(t, eventCatalog(t))
	place(t, orig, 0, 0, "sawmill")
	for i := 0; i < 2; i++ {
		_, err := orig.AdvanceTurn()
		require.NoError(t, err)
	}

	m, err := orig.Memento()
	require.NoError(t, err)

	restored, err := Restore(eventCatalog(t), m, Options{})
	require.NoError(t, err)
	assert.Equal(t, orig.Turn(), restored.Turn())

	for i := 0; i < 3; i++ {
		ra, err := orig.AdvanceTurn()
		require.NoError(t, err)
		rb, err := restored.AdvanceTurn()
		require.NoError(t, err)
		assert.Equal(t, ra, rb, "turn %d diverged after restore", ra.Turn)
	}
	assert.Equal(t, orig.Snapshot(), restored.Snapshot())
}
