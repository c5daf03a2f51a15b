package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"

	"synnergy-network/xln/core"
)

// withSandboxConfig writes a config/default.yaml under a temp directory,
// chdirs into it for the duration of the test, and resets viper's global
// state so one test's load can't leak into the next.
func withSandboxConfig(t *testing.T, yaml string) {
	t.Helper()
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "config"), 0o700); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config", "default.yaml"), []byte(yaml), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	t.Cleanup(func() { os.Chdir(wd) })
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	viper.Reset()
}

func TestLoadReadsEntityAndRuntimeSections(t *testing.T) {
	withSandboxConfig(t, ""+
		"entity:\n"+
		"  validators: [s1, s2]\n"+
		"  weights: {s1: 1, s2: 1}\n"+
		"  threshold: 2\n"+
		"runtime:\n"+
		"  max_ticks_per_drain: 42\n"+
		"  snapshot_path: snapshots.log\n"+
		"account:\n"+
		"  resend_after_ticks: 5\n"+
		"  frame_history_size: 64\n")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Runtime.MaxTicksPerDrain != 42 {
		t.Fatalf("expected max_ticks_per_drain 42, got %d", cfg.Runtime.MaxTicksPerDrain)
	}
	if cfg.Account.FrameHistorySize != 64 {
		t.Fatalf("expected frame_history_size 64, got %d", cfg.Account.FrameHistorySize)
	}
	if cfg.Entity.Threshold != 2 {
		t.Fatalf("expected threshold 2, got %d", cfg.Entity.Threshold)
	}
}

func TestEntityConfigConvertsValidatorsAndWeights(t *testing.T) {
	withSandboxConfig(t, ""+
		"entity:\n"+
		"  validators: [s1, s2]\n"+
		"  weights: {s1: 1, s2: 3}\n"+
		"  threshold: 2\n")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	ec := cfg.EntityConfig()
	if len(ec.Validators) != 2 {
		t.Fatalf("expected 2 validators, got %d", len(ec.Validators))
	}
	if ec.Weights[core.SignerId("s2")] != 3 {
		t.Fatalf("expected s2 weight 3, got %d", ec.Weights[core.SignerId("s2")])
	}
	if ec.Threshold != 2 {
		t.Fatalf("expected threshold 2, got %d", ec.Threshold)
	}
}

func TestConfigNewRuntimeFromLoadedConfig(t *testing.T) {
	withSandboxConfig(t, ""+
		"runtime:\n"+
		"  max_ticks_per_drain: 7\n")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Runtime.MaxTicksPerDrain != 7 {
		t.Fatalf("expected max_ticks_per_drain 7, got %d", cfg.Runtime.MaxTicksPerDrain)
	}

	path := filepath.Join(t.TempDir(), "snapshots.log")
	snapshots, err := core.OpenSnapshotLog(path)
	if err != nil {
		t.Fatalf("OpenSnapshotLog: %v", err)
	}
	defer snapshots.Close()

	rt := cfg.NewRuntime(snapshots)
	if rt == nil {
		t.Fatalf("expected a non-nil Runtime")
	}
}

func TestFrameHistorySizeDefaultsWhenUnset(t *testing.T) {
	withSandboxConfig(t, "entity:\n  threshold: 1\n")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.FrameHistorySize(); got != core.DefaultFrameHistorySize {
		t.Fatalf("expected default %d, got %d", core.DefaultFrameHistorySize, got)
	}
}

func TestApplyEntityAndAccountDefaults(t *testing.T) {
	withSandboxConfig(t, ""+
		"account:\n"+
		"  resend_after_ticks: 3\n"+
		"  frame_history_size: 16\n")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	keys, err := core.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	var entityId, counterpartyId core.EntityId
	entityId[31] = 0x01
	counterpartyId[31] = 0x02

	m := core.NewEntityMachine(entityId, "s1", core.EntityConfig{}, keys, nil, nil)
	ApplyEntityDefaults(cfg, m)

	acctKeys, err := core.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	acct := core.NewAccountMachine(entityId, counterpartyId, keys, acctKeys.Public, nil, core.DefaultFrameHistorySize)
	ApplyAccountDefaults(cfg, acct)
}
