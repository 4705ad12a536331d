// Package serverapp wires the simulation engine into an HTTP surface: a
// JSON API for commands and state, and a websocket feed of phase-boundary
// snapshots.
package serverapp

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"gridstead/internal/catalog"
	"gridstead/internal/grid"
	"gridstead/internal/persistence"
	"gridstead/internal/plugin"
	"gridstead/internal/sim"
)

type Options struct {
	Engine *sim.Engine
	Store  *persistence.Store // optional: save/load endpoints 404 without it
	Hub    *Hub               // optional: /ws is not registered without it
	Logger *slog.Logger
}

func NewHandler(opts Options) (http.Handler, error) {
	if opts.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	restoreOpts := sim.Options{Logger: opts.Logger}
	if opts.Hub != nil {
		restoreOpts.Notify = opts.Hub.Broadcast
	}
	a := &api{
		engine:      opts.Engine,
		cat:         opts.Engine.Catalog(),
		restoreOpts: restoreOpts,
		store:       opts.Store,
		log:         opts.Logger,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":      true,
			"service": "gridstead",
			"time":    time.Now().UTC().Format(time.RFC3339),
		})
	})

	mux.HandleFunc("GET /api/snapshot", a.snapshot)
	mux.HandleFunc("GET /api/journal", a.journal)
	mux.HandleFunc("POST /api/turn", a.advanceTurn)
	mux.HandleFunc("POST /api/commands", a.submit)
	mux.HandleFunc("POST /api/tiles", a.placeTile)
	mux.HandleFunc("DELETE /api/tiles", a.removeTile)
	mux.HandleFunc("POST /api/buildings", a.placeBuilding)
	mux.HandleFunc("DELETE /api/buildings", a.removeBuilding)
	mux.HandleFunc("POST /api/plugins", a.createPlugin)
	mux.HandleFunc("POST /api/plugins/attach", a.attachPlugin)
	mux.HandleFunc("POST /api/plugins/detach", a.detachPlugin)

	if opts.Store != nil {
		mux.HandleFunc("POST /api/saves/{name}", a.save)
		mux.HandleFunc("POST /api/saves/{name}/load", a.load)
		mux.HandleFunc("GET /api/saves", a.listSaves)
	}
	if opts.Hub != nil {
		mux.Handle("GET /ws", opts.Hub)
	}

	return withAccessLog(mux, opts.Logger), nil
}

type api struct {
	cat         *catalog.Catalog
	restoreOpts sim.Options
	store       *persistence.Store
	log         *slog.Logger

	mu     sync.RWMutex
	engine *sim.Engine // swapped on load
}

func (a *api) eng() *sim.Engine {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.engine
}

func (a *api) snapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.eng().Snapshot())
}

func (a *api) journal(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.eng().Journal())
}

func (a *api) advanceTurn(w http.ResponseWriter, r *http.Request) {
	rec, err := a.eng().AdvanceTurn()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *api) submit(w http.ResponseWriter, r *http.Request) {
	var cmd sim.Command
	if !decode(w, r, &cmd) {
		return
	}
	if err := a.eng().Submit(cmd); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": true})
}

type coordBody struct {
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Terrain string `json:"terrain,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Plugin  int    `json:"plugin,omitempty"`
}

func (b coordBody) coord() grid.Coord { return grid.Coord{X: b.X, Y: b.Y} }

func (a *api) placeTile(w http.ResponseWriter, r *http.Request) {
	var body coordBody
	if !decode(w, r, &body) {
		return
	}
	t, err := a.eng().PlaceTile(body.coord(), body.Terrain)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (a *api) removeTile(w http.ResponseWriter, r *http.Request) {
	var body coordBody
	if !decode(w, r, &body) {
		return
	}
	if err := a.eng().RemoveTile(body.coord()); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": true})
}

func (a *api) placeBuilding(w http.ResponseWriter, r *http.Request) {
	var body coordBody
	if !decode(w, r, &body) {
		return
	}
	b, err := a.eng().PlaceBuilding(body.coord(), body.Kind)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (a *api) removeBuilding(w http.ResponseWriter, r *http.Request) {
	var body coordBody
	if !decode(w, r, &body) {
		return
	}
	if err := a.eng().RemoveBuilding(body.coord()); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": true})
}

func (a *api) createPlugin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Kind string `json:"kind"`
	}
	if !decode(w, r, &body) {
		return
	}
	p, err := a.eng().CreatePlugin(body.Kind)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (a *api) attachPlugin(w http.ResponseWriter, r *http.Request) {
	var body coordBody
	if !decode(w, r, &body) {
		return
	}
	if err := a.eng().AttachPlugin(body.coord(), plugin.ID(body.Plugin)); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attached": true})
}

func (a *api) detachPlugin(w http.ResponseWriter, r *http.Request) {
	var body coordBody
	if !decode(w, r, &body) {
		return
	}
	if err := a.eng().DetachPlugin(body.coord(), plugin.ID(body.Plugin)); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"detached": true})
}

func (a *api) save(w http.ResponseWriter, r *http.Request) {
	m, err := a.eng().Memento()
	if err != nil {
		writeErr(w, err)
		return
	}
	name := r.PathValue("name")
	if err := a.store.Save(name, m); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"saved": name, "turn": m.Turn})
}

// load restores a save into a fresh engine and swaps it in behind the
// handlers, so the API resumes from the saved turn.
func (a *api) load(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	m, err := a.store.Load(name)
	if err != nil {
		writeErr(w, err)
		return
	}
	engine, err := sim.Restore(a.cat, m, a.restoreOpts)
	if err != nil {
		writeErr(w, err)
		return
	}
	a.mu.Lock()
	a.engine = engine
	a.mu.Unlock()
	a.log.Info("save loaded", "name", name, "turn", m.Turn)
	writeJSON(w, http.StatusOK, map[string]any{"loaded": name, "turn": m.Turn})
}

func (a *api) listSaves(w http.ResponseWriter, r *http.Request) {
	infos, err := a.store.List()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr maps the engine's sentinel errors onto HTTP statuses.
func writeErr(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, sim.ErrHalted):
		code = http.StatusServiceUnavailable
	case errors.Is(err, sim.ErrPhase):
		code = http.StatusConflict
	case errors.Is(err, sim.ErrInvalidTarget), errors.Is(err, persistence.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, sim.ErrInsufficientResource),
		errors.Is(err, grid.ErrPlacement),
		errors.Is(err, plugin.ErrSlotFull),
		errors.Is(err, plugin.ErrIncompatible):
		code = http.StatusUnprocessableEntity
	}
	writeJSON(w, code, map[string]any{"error": err.Error()})
}

func withAccessLog(next http.Handler, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug("http request", "method", r.Method, "path", r.URL.Path, "dur", time.Since(start))
	})
}
