// Package dotenv loads .env files into the process environment.
package dotenv

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Load reads each existing file in order. Missing files are skipped and
// variables already set in the environment win over file values.
func Load(paths ...string) error {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("stat env file %q: %w", path, err)
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %q: %w", path, err)
		}
	}
	return nil
}
