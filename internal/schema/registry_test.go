package schema

import "testing"

func TestMigrate_FromAbsentVersion(t *testing.T) {
	doc := map[string]any{"phase": "init", "safe": true}
	if !Migrate(doc) {
		t.Fatal("expected migration to apply")
	}
	if Version(doc) != CurrentVersion {
		t.Fatalf("version = %d, want %d", Version(doc), CurrentVersion)
	}
	if _, ok := doc["safe"]; ok {
		t.Fatal("legacy safe flag should have been dropped")
	}
	if _, ok := doc["_migrated_at"]; !ok {
		t.Fatal("_migrated_at should be set")
	}
}

func TestMigrate_AppliedTwiceIsNoOp(t *testing.T) {
	doc := map[string]any{"phase": "init"}
	Migrate(doc)
	first := doc["_migrated_at"]

	if Migrate(doc) {
		t.Fatal("second Migrate() should be a no-op and return false")
	}
	if doc["_migrated_at"] != first {
		t.Fatal("re-migrating should not touch _migrated_at")
	}
}

func TestMigrate_VersionNeverDecreases(t *testing.T) {
	doc := map[string]any{"_schema_version": float64(CurrentVersion)}
	Migrate(doc)
	if Version(doc) != CurrentVersion {
		t.Fatalf("version regressed to %d", Version(doc))
	}
}
