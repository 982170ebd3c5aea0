package migrate

import (
	"errors"
	"fmt"
	"os"
)

// databaseSuffixes are the files SQLite keeps next to a database.
var databaseSuffixes = []string{"", "-wal", "-shm", "-journal"}

// removeDatabaseFiles removes a database file and its sidecars. Missing
// files are not an error.
func removeDatabaseFiles(path string) error {
	var errs []error
	for _, suffix := range databaseSuffixes {
		if err := os.Remove(path + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
}
