package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultWhenProfileMissing(t *testing.T) {
	dir := t.TempDir()
	c, err := Load(dir, "default")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Network.DiscoveryTag != "duniter-go" {
		t.Fatalf("DiscoveryTag = %q, want duniter-go", c.Network.DiscoveryTag)
	}
	if c.Blockchain.MaxForkSlots != 50 {
		t.Fatalf("MaxForkSlots = %d, want 50", c.Blockchain.MaxForkSlots)
	}
}

func TestLoadReadsOverride(t *testing.T) {
	dir := t.TempDir()
	profileDir := filepath.Join(dir, "bootstrap")
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	yamlBody := "network:\n  discovery_tag: duniter-bootstrap\nblockchain:\n  max_fork_slots: 10\n"
	if err := os.WriteFile(filepath.Join(profileDir, "conf.yaml"), []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	c, err := Load(dir, "bootstrap")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Network.DiscoveryTag != "duniter-bootstrap" {
		t.Fatalf("DiscoveryTag = %q, want duniter-bootstrap", c.Network.DiscoveryTag)
	}
	if c.Blockchain.MaxForkSlots != 10 {
		t.Fatalf("MaxForkSlots = %d, want 10", c.Blockchain.MaxForkSlots)
	}
}

func TestSaveThenLoadRoundTripsModulesDisabled(t *testing.T) {
	dir := t.TempDir()
	c := Default()
	c.Profile = "default"
	c.Modules.Disabled = []string{"network"}

	if err := Save(dir, c); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(dir, "default")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.ModuleEnabled("network") {
		t.Fatal("network should be disabled after round trip")
	}
	if !got.ModuleEnabled("storage") {
		t.Fatal("storage should still be enabled")
	}
}

func TestValidateRejectsNonPositiveMaxForkSlots(t *testing.T) {
	c := Default()
	c.Blockchain.MaxForkSlots = 0
	if err := c.Validate(); err == nil {
		t.Fatal("Validate should reject a zero max_fork_slots")
	}
}

func TestValidateRejectsZeroGraceWindow(t *testing.T) {
	c := Default()
	c.Router.GraceWindow = 0
	if err := c.Validate(); err == nil {
		t.Fatal("Validate should reject a zero grace window")
	}
}
