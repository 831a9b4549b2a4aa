// Package schema holds the versioned operation-document schema and the
// migrators that bring an older document up to the current version.
package schema

import "time"

// CurrentVersion is the schema version new operation documents are written
// at. A document with no "_schema_version" field is treated as version 0.
const CurrentVersion = 2

// Migrator mutates a decoded document in place to move it from one schema
// version to the next. Migrators are applied in order, one version at a
// time, so a migrator only ever needs to know about its own step.
type Migrator func(doc map[string]any)

// migrators maps "migrate from version N" to the function that produces
// version N+1.
var migrators = map[int]Migrator{
	0: migrateV0toV1,
	1: migrateV1toV2,
}

// migrateV0toV1 introduces the schema-version bookkeeping fields themselves
// and nothing else; version 0 documents predate any of this module's
// fields and are otherwise already shaped like a version-1 document.
func migrateV0toV1(doc map[string]any) {
	// No field changes; the version bump alone is the migration.
	_ = doc
}

// migrateV1toV2 drops the legacy "safe" flag. Its precise historical
// semantics are not recoverable; it is simply discarded.
func migrateV1toV2(doc map[string]any) {
	delete(doc, "safe")
}

// Version reads the document's current schema version, treating an absent
// field as 0.
func Version(doc map[string]any) int {
	v, ok := doc["_schema_version"]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

// Migrate applies every migrator needed to bring doc from its current
// version up to CurrentVersion, in order, and stamps _schema_version and
// _migrated_at. Returns true if any migration was applied. Migration
// applied twice is a no-op the second time: Version(doc) will already read
// CurrentVersion and the loop below does nothing.
func Migrate(doc map[string]any) bool {
	from := Version(doc)
	if from >= CurrentVersion {
		return false
	}
	for v := from; v < CurrentVersion; v++ {
		if m, ok := migrators[v]; ok {
			m(doc)
		}
	}
	doc["_schema_version"] = float64(CurrentVersion)
	doc["_migrated_at"] = time.Now().UTC().Format(time.RFC3339)
	return true
}
