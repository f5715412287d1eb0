package config

import "testing"

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig("/tmp/example-db")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig should validate cleanly: %v", err)
	}
}

func TestValidateRejectsEmptyDataDir(t *testing.T) {
	cfg := DefaultConfig("")
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for an empty DataDir")
	}
}

func TestValidateRejectsNonPositivePageCacheSize(t *testing.T) {
	cfg := DefaultConfig("/tmp/example-db")
	cfg.PageCacheSize = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for a non-positive PageCacheSize")
	}
}

func TestValidateRejectsNonPositiveIndexBackfillBatchSize(t *testing.T) {
	cfg := DefaultConfig("/tmp/example-db")
	cfg.IndexBackfillBatchSize = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for a non-positive IndexBackfillBatchSize")
	}
}
