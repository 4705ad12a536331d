package main

import (
	"log/slog"
	"net/http"
	"os"

	"gridstead/internal/catalog"
	"gridstead/internal/persistence"
	"gridstead/internal/serverapp"
	"gridstead/internal/sim"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	opts, err := catalog.OptionsFromEnv()
	if err != nil {
		logger.Error("bad environment", "err", err)
		os.Exit(1)
	}

	cat, err := catalog.Load(opts.CatalogPath)
	if err != nil {
		logger.Error("load catalog", "path", opts.CatalogPath, "err", err)
		os.Exit(1)
	}

	var store *persistence.Store
	if opts.DBPath != "" {
		store, err = persistence.Open(opts.DBPath)
		if err != nil {
			logger.Error("open save db", "path", opts.DBPath, "err", err)
			os.Exit(1)
		}
		defer store.Close()
	}

	hub := serverapp.NewHub(logger)
	engine, err := sim.New(cat, sim.Options{
		Seed:   opts.Seed,
		Logger: logger,
		Notify: hub.Broadcast,
	})
	if err != nil {
		logger.Error("build engine", "err", err)
		os.Exit(1)
	}

	handler, err := serverapp.NewHandler(serverapp.Options{
		Engine: engine,
		Store:  store,
		Hub:    hub,
		Logger: logger,
	})
	if err != nil {
		logger.Error("build server", "err", err)
		os.Exit(1)
	}

	logger.Info("listening", "addr", opts.Addr, "catalog", opts.CatalogPath)
	if err := http.ListenAndServe(opts.Addr, handler); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}
