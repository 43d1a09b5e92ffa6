package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// SEANCE_ADDR points at a running engine, e.g. "http://localhost:8080".
	// When empty, the end-to-end suite skips itself.
	SeanceAddr string `envconfig:"SEANCE_ADDR"`
	// E2E_IDENTITY_SECRET must match the IDENTITY_SECRET of the target so
	// the suite can mint its own identity tokens.
	IdentitySecret string `envconfig:"E2E_IDENTITY_SECRET"`
	// E2E_DEBUG_JSON dumps full request/response bodies.
	DebugJSON bool `envconfig:"E2E_DEBUG_JSON" default:"false"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
