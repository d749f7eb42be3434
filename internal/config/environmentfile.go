// SPDX-License-Identifier: AGPL-3.0-or-later
package config

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// DefaultEnvironment is the environment name assumed when no ENVIRONMENT
// file is present at the process root, per spec §6.
const DefaultEnvironment = "dev"

// environmentFileBaseName is the plain-text file at the process root a
// Fulcrum process reads its environment descriptor and optional IP
// override from.
const environmentFileBaseName = "ENVIRONMENT"

// ReadEnvironmentFile reads dir/ENVIRONMENT per spec §6: its first
// non-empty line names the environment this process belongs to (the key
// into the registry's environment/config directory, §4.5); an optional
// second non-empty line overrides the process's advertised address. A
// missing file is not an error — it yields DefaultEnvironment and no
// override, matching "Absence of the file means the default role dev".
func ReadEnvironmentFile(dir string) (environment string, ipOverride string, err error) {
	f, err := os.Open(filepath.Join(dir, environmentFileBaseName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultEnvironment, "", nil
		}
		return "", "", err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() && len(lines) < 2 {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return "", "", err
	}

	if len(lines) == 0 {
		return DefaultEnvironment, "", nil
	}
	if len(lines) == 1 {
		return lines[0], "", nil
	}
	return lines[0], lines[1], nil
}

// ApplyEnvironmentFile reads the ENVIRONMENT file at dir and layers it onto
// cfg: the environment name always applies, and the optional IP override
// replaces cfg.Address only when present, so explicit config/flags for
// Address still win when the file has no second line.
func ApplyEnvironmentFile(cfg *Config, dir string) error {
	environment, ipOverride, err := ReadEnvironmentFile(dir)
	if err != nil {
		return err
	}
	cfg.Environment = environment
	if ipOverride != "" {
		cfg.Address = ipOverride
	}
	return nil
}
