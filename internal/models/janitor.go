package models

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// fetchTempSuffix matches the partial files the fetch package writes
// before its atomic rename.
const fetchTempSuffix = ".tmp"

// staleTempAge is how old a temp file must be before the sweep
// removes it. Young temp files may belong to an in-flight download.
const staleTempAge = time.Hour

// SweepTempFiles removes stale download leftovers from dir. Run at
// startup: a crash mid-download leaves a .tmp behind that would
// otherwise sit there forever. Returns the number of files removed.
func SweepTempFiles(dir string, log zerolog.Logger) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}

	removed := 0
	cutoff := time.Now().Add(-staleTempAge)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != fetchTempSuffix {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.Remove(path); err != nil {
			log.Warn().Err(err).Str("file", e.Name()).Msg("could not remove stale temp file")
			continue
		}
		log.Info().Str("file", e.Name()).Msg("removed stale temp file")
		removed++
	}
	return removed
}
