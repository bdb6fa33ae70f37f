package config

import "testing"

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxActive != 500 {
		t.Errorf("MaxActive = %d, want 500", cfg.MaxActive)
	}
	if cfg.DedupJaccard != 0.7 {
		t.Errorf("DedupJaccard = %f, want 0.7", cfg.DedupJaccard)
	}
	if cfg.ContradictionJaccard != 0.5 {
		t.Errorf("ContradictionJaccard = %f, want 0.5", cfg.ContradictionJaccard)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CORTEX_MAX_ACTIVE", "100")
	t.Setenv("CORTEX_DEBUG", "1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxActive != 100 {
		t.Errorf("MaxActive = %d, want 100", cfg.MaxActive)
	}
	if !cfg.Debug {
		t.Error("Debug = false, want true")
	}
}

func TestLoad_RejectsInvalidThresholds(t *testing.T) {
	t.Setenv("CORTEX_CONTRADICTION_JACCARD", "7.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ContradictionJaccard != 0.5 {
		t.Errorf("ContradictionJaccard = %f, want default 0.5", cfg.ContradictionJaccard)
	}
}
