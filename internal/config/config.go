// Package config loads runtime settings from the environment.
package config

import (
	"os"
	"strconv"
)

type Config struct {
	// Addr is the listen address for the HTTP server.
	Addr string
	// DBPath is the sqlite database file. Empty means an in-memory database
	// that vanishes on exit.
	DBPath string
	// SearchCount is the default search page size.
	SearchCount int
}

// Load reads configuration from FICTIONSOURCE_* environment variables,
// falling back to PORT for the listen address and sane defaults otherwise.
func Load() Config {
	addr := envString("FICTIONSOURCE_ADDR", "")
	if addr == "" {
		if port := envString("PORT", ""); port != "" {
			addr = ":" + port
		} else {
			addr = ":8080"
		}
	}

	return Config{
		Addr:        addr,
		DBPath:      envString("FICTIONSOURCE_DB", "fictionsource.db"),
		SearchCount: envInt("FICTIONSOURCE_SEARCH_COUNT", 25),
	}
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
