package serverapp

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridstead/internal/catalog"
	"gridstead/internal/persistence"
	"gridstead/internal/sim"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat := &catalog.Catalog{
		Resources: []catalog.ResourceDef{{Kind: "wood"}, {Kind: "gold", Initial: 10}},
		Terrains:  []catalog.TerrainDef{{Kind: "plains", Buildable: true}},
		Buildings: []catalog.BuildingDef{
			{Kind: "sawmill", Outputs: []catalog.Cost{{Resource: "wood", Qty: 2}}},
			{Kind: "manor", BuildCost: []catalog.Cost{{Resource: "gold", Qty: 50}}},
		},
		Rules: catalog.Rules{Seed: 5},
	}
	require.NoError(t, cat.Finalize())
	return cat
}

type fixture struct {
	engine *sim.Engine
	store  *persistence.Store
	srv    *httptest.Server
}

func newFixture(t *testing.T, hub *Hub) *fixture {
	t.Helper()
	opts := sim.Options{}
	if hub != nil {
		opts.Notify = hub.Broadcast
	}
	engine, err := sim.New(testCatalog(t), opts)
	require.NoError(t, err)

	store, err := persistence.Open(filepath.Join(t.TempDir(), "saves.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h, err := NewHandler(Options{Engine: engine, Store: store, Hub: hub})
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &fixture{engine: engine, store: store, srv: srv}
}

func (f *fixture) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	resp, err := http.Post(f.srv.URL+path, "application/json", &buf)
	require.NoError(t, err)
	return resp
}

func (f *fixture) getJSON(t *testing.T, path string, v any) {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, nil)
	var body map[string]any
	f.getJSON(t, "/healthz", &body)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "gridstead", body["service"])
}

func TestPlaceAndAdvance(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.post(t, "/api/tiles", map[string]any{"x": 0, "y": 0, "terrain": "plains"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = f.post(t, "/api/buildings", map[string]any{"x": 0, "y": 0, "kind": "sawmill"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = f.post(t, "/api/turn", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	var snap sim.Snapshot
	f.getJSON(t, "/api/snapshot", &snap)
	assert.Equal(t, 2, snap.Turn)
	assert.Equal(t, 2, snap.Resources["wood"])
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t, nil)

	// no tile underneath
	resp := f.post(t, "/api/buildings", map[string]any{"x": 5, "y": 5, "kind": "sawmill"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()

	// build cost exceeds the treasury
	r2 := f.post(t, "/api/tiles", map[string]any{"x": 0, "y": 0, "terrain": "plains"})
	r2.Body.Close()
	resp = f.post(t, "/api/buildings", map[string]any{"x": 0, "y": 0, "kind": "manor"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Post(f.srv.URL+"/api/commands", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestSaveEndpoints_LoadResumesSavedTurn(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.post(t, "/api/saves/main", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	var infos []persistence.SaveInfo
	f.getJSON(t, "/api/saves", &infos)
	require.Len(t, infos, 1)
	assert.Equal(t, "main", infos[0].Name)

	// move on two turns, then load: the API serves the saved state again
	for i := 0; i < 2; i++ {
		r := f.post(t, "/api/turn", nil)
		require.Equal(t, http.StatusOK, r.StatusCode)
		r.Body.Close()
	}
	var snap sim.Snapshot
	f.getJSON(t, "/api/snapshot", &snap)
	require.Equal(t, 3, snap.Turn)

	var loaded map[string]any
	resp = f.post(t, "/api/saves/main/load", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&loaded))
	resp.Body.Close()
	assert.Equal(t, float64(1), loaded["turn"])

	f.getJSON(t, "/api/snapshot", &snap)
	assert.Equal(t, 1, snap.Turn)

	resp = f.post(t, "/api/saves/missing/load", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestWebsocket_ReceivesPhaseSnapshots(t *testing.T) {
	hub := NewHub(nil)
	f := newFixture(t, hub)

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	r := f.post(t, "/api/turn", nil)
	require.Equal(t, http.StatusOK, r.StatusCode)
	r.Body.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var seen []sim.Phase
	for i := 0; i < 3; i++ {
		var snap sim.Snapshot
		require.NoError(t, conn.ReadJSON(&snap))
		seen = append(seen, snap.Phase)
	}
	assert.Equal(t, sim.PhaseBegin, seen[0], "first frame is the turn's opening phase")
}
