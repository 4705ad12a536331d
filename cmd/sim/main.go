// Headless runner: advances a fixed number of turns and prints the journal.
// Useful for balancing catalogs and reproducing seeds without the server.
package main

import (
	"encoding/json"
	"flag"
	"log/slog"
	"os"

	"gridstead/internal/catalog"
	"gridstead/internal/persistence"
	"gridstead/internal/sim"
)

func main() {
	var (
		catalogPath = flag.String("catalog", "gridstead.yml", "catalog file")
		turns       = flag.Int("turns", 10, "turns to simulate")
		seed        = flag.Int64("seed", 0, "rng seed (0 uses the catalog's)")
		savePath    = flag.String("db", "", "optional sqlite file; final state is saved as 'headless'")
		asJSON      = flag.Bool("json", false, "print the journal as JSON")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cat, err := catalog.Load(*catalogPath)
	if err != nil {
		logger.Error("load catalog", "path", *catalogPath, "err", err)
		os.Exit(1)
	}

	engine, err := sim.New(cat, sim.Options{Seed: *seed, Logger: logger})
	if err != nil {
		logger.Error("build engine", "err", err)
		os.Exit(1)
	}

	for i := 0; i < *turns; i++ {
		rec, err := engine.AdvanceTurn()
		if err != nil {
			logger.Error("turn failed", "turn", rec.Turn, "err", err)
			break
		}
		logger.Info("turn done",
			"turn", rec.Turn,
			"produced", rec.Produced,
			"consumed", rec.Consumed,
			"events", rec.EventsTriggered,
			"upkeep_paid", rec.GlobalUpkeepPaid,
		)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(engine.Journal()); err != nil {
			logger.Error("encode journal", "err", err)
		}
	}

	if *savePath != "" {
		store, err := persistence.Open(*savePath)
		if err != nil {
			logger.Error("open save db", "err", err)
			os.Exit(1)
		}
		defer store.Close()
		m, err := engine.Memento()
		if err != nil {
			logger.Error("capture state", "err", err)
			os.Exit(1)
		}
		if err := store.Save("headless", m); err != nil {
			logger.Error("save state", "err", err)
			os.Exit(1)
		}
		logger.Info("state saved", "db", *savePath, "turn", m.Turn)
	}
}
