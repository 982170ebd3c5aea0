package migrate

import (
	"context"
	"fmt"

	"github.com/roach88/eventdb/internal/layout"
)

// upgradeFunc converts one user's previous-generation file into the
// generation it is registered under. It returns the number of rows copied.
type upgradeFunc func(ctx context.Context, m *Migrator, user layout.UserEntry) (int64, error)

// generationRecord holds one on-disk schema generation and the step that
// produces it from its predecessor.
type generationRecord struct {
	Version int
	Upgrade upgradeFunc // nil for the first generation
}

// generationDatabase is the ordered, immutable list of known generations.
type generationDatabase struct {
	// oldest to newest; the last item is the current generation
	versions []generationRecord

	byVersion map[int]*generationRecord
}

// Latest returns the current generation.
func (g *generationDatabase) Latest() generationRecord {
	return g.versions[len(g.versions)-1]
}

// Find returns the record of a generation, or false if it is unknown.
func (g *generationDatabase) Find(version int) (generationRecord, bool) {
	record, ok := g.byVersion[version]
	if !ok {
		return generationRecord{}, false
	}
	return *record, true
}

// newGenerationDatabase builds the list. Versions must be consecutive from
// the first record and every record but the first must carry an upgrade.
func newGenerationDatabase(records ...generationRecord) generationDatabase {
	if len(records) == 0 {
		panic("newGenerationDatabase: at least one generation is required")
	}

	versions := make([]generationRecord, len(records))
	byVersion := make(map[int]*generationRecord, len(records))
	for i, r := range records {
		if _, ok := byVersion[r.Version]; ok {
			panic(fmt.Sprintf("newGenerationDatabase: duplicate generation %d", r.Version))
		}
		if i > 0 && r.Version != records[i-1].Version+1 {
			panic(fmt.Sprintf("newGenerationDatabase: generation %d does not follow %d", r.Version, records[i-1].Version))
		}
		if i > 0 && r.Upgrade == nil {
			panic(fmt.Sprintf("newGenerationDatabase: generation %d has no upgrade", r.Version))
		}

		versions[i] = r
		byVersion[r.Version] = &versions[i]
	}

	return generationDatabase{versions: versions, byVersion: byVersion}
}

// generations is the canonical list of on-disk generations. The latest
// must match store.SchemaVersion.
var generations = newGenerationDatabase(
	generationRecord{Version: 0},
	generationRecord{Version: 1, Upgrade: upgradeFromV0},
)

// FileName returns the database file name of a store at a generation.
func FileName(storeName string, version int) string {
	return fmt.Sprintf("%s-v%d.sqlite", storeName, version)
}

// MarkerName returns the file name of the marker recording that every user
// of a store has reached a generation.
func MarkerName(storeName string, version int) string {
	return fmt.Sprintf("%s-schema-v%d.done", storeName, version)
}

// CurrentVersion returns the current generation number.
func CurrentVersion() int {
	return generations.Latest().Version
}
