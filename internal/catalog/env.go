package catalog

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Options are the runtime knobs that do not belong in the catalog file.
type Options struct {
	Addr        string `env:"GRIDSTEAD_ADDR" envDefault:":42069"`
	CatalogPath string `env:"GRIDSTEAD_CATALOG" envDefault:"gridstead.yml"`
	DBPath      string `env:"GRIDSTEAD_DB" envDefault:""`
	Seed        int64  `env:"GRIDSTEAD_SEED" envDefault:"0"` // 0 => catalog seed
}

// OptionsFromEnv loads runtime options from the environment.
func OptionsFromEnv() (Options, error) {
	var opts Options
	if err := env.Parse(&opts); err != nil {
		return Options{}, fmt.Errorf("parse env: %w", err)
	}
	return opts, nil
}
