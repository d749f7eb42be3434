// SPDX-License-Identifier: AGPL-3.0-or-later
package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/USA-RedDragon/fulcrum/internal/config"
)

func TestReadEnvironmentFileAbsentDefaultsToDev(t *testing.T) {
	t.Parallel()
	environment, ipOverride, err := config.ReadEnvironmentFile(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if environment != config.DefaultEnvironment {
		t.Errorf("expected default environment %q, got %q", config.DefaultEnvironment, environment)
	}
	if ipOverride != "" {
		t.Errorf("expected no IP override, got %q", ipOverride)
	}
}

func TestReadEnvironmentFileNameOnly(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeEnvironmentFile(t, dir, "staging\n")

	environment, ipOverride, err := config.ReadEnvironmentFile(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if environment != "staging" {
		t.Errorf("expected environment %q, got %q", "staging", environment)
	}
	if ipOverride != "" {
		t.Errorf("expected no IP override, got %q", ipOverride)
	}
}

func TestReadEnvironmentFileNameAndIPOverride(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeEnvironmentFile(t, dir, "\nprod\n10.0.0.5\n")

	environment, ipOverride, err := config.ReadEnvironmentFile(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if environment != "prod" {
		t.Errorf("expected environment %q, got %q", "prod", environment)
	}
	if ipOverride != "10.0.0.5" {
		t.Errorf("expected IP override %q, got %q", "10.0.0.5", ipOverride)
	}
}

func TestApplyEnvironmentFileOverridesAddressOnlyWhenPresent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeEnvironmentFile(t, dir, "prod\n")

	cfg := makeValidConfig()
	cfg.Address = "original:25565"
	if err := config.ApplyEnvironmentFile(&cfg, dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Environment != "prod" {
		t.Errorf("expected environment %q, got %q", "prod", cfg.Environment)
	}
	if cfg.Address != "original:25565" {
		t.Errorf("expected address to be left unchanged, got %q", cfg.Address)
	}
}

func writeEnvironmentFile(t *testing.T, dir, contents string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "ENVIRONMENT"), []byte(contents), 0o600); err != nil {
		t.Fatalf("failed writing ENVIRONMENT file: %v", err)
	}
}
