// SPDX-License-Identifier: AGPL-3.0-or-later
package config

// LogLevel represents the logging level for the application.
type LogLevel string

const (
	// LogLevelDebug is the debug logging level, providing detailed information.
	LogLevelDebug LogLevel = "debug"
	// LogLevelInfo is the informational logging level, providing general information.
	LogLevelInfo LogLevel = "info"
	// LogLevelWarn is the warning logging level, indicating potential issues.
	LogLevelWarn LogLevel = "warn"
	// LogLevelError is the error logging level, indicating serious issues.
	LogLevelError LogLevel = "error"
)

// DatabaseDriver represents the gorm driver backing the environment directory.
type DatabaseDriver string

const (
	// DatabaseDriverSQLite is the embedded SQLite database driver.
	DatabaseDriverSQLite DatabaseDriver = "sqlite"
	// DatabaseDriverPostgres is the PostgreSQL database driver.
	DatabaseDriverPostgres DatabaseDriver = "postgres"
	// DatabaseDriverMySQL is the MySQL database driver.
	DatabaseDriverMySQL DatabaseDriver = "mysql"
)

// Role selects which subsystems a Fulcrum process runs.
type Role string

const (
	// RoleRegistry runs the authoritative directory and id assignment service.
	RoleRegistry Role = "registry"
	// RoleBackend runs the slot orchestrator plus the shared identity/heartbeat/shutdown machinery.
	RoleBackend Role = "backend"
	// RoleProxy runs the player route dispatcher plus the shared identity/heartbeat/shutdown machinery.
	RoleProxy Role = "proxy"
)
