// SPDX-License-Identifier: AGPL-3.0-or-later
// Fulcrum - Game-backend control-plane orchestrator
// Copyright (C) 2023-2026 Jacob McSwain
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// Package sdk holds build-time version metadata, overridden via -ldflags at
// release build time.
package sdk

var (
	// Version of the program, overridden at build time via -ldflags.
	Version = "dev" //nolint:gochecknoglobals

	// GitCommit is the commit the binary was built from, overridden at
	// build time via -ldflags.
	GitCommit = "unknown" //nolint:gochecknoglobals
)
