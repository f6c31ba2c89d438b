package cli

import (
	"os"

	"github.com/joho/godotenv"
)

// loadDotEnv loads PANELFLEET_* defaults from a .env file when present.
// godotenv never overrides variables already set in the environment, so
// real env always wins over the file.
func loadDotEnv(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	_ = godotenv.Load(path)
}
