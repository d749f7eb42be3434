// SPDX-License-Identifier: AGPL-3.0-or-later
package config_test

import (
	"errors"
	"testing"
	"time"

	"github.com/USA-RedDragon/fulcrum/internal/config"
)

func makeValidConfig() config.Config {
	return config.Config{
		LogLevel:     config.LogLevelInfo,
		Role:         config.RoleBackend,
		FamilyPrefix: "mini",
		Secret:       "testsecret",
		PasswordSalt: "testsalt",
		Database: config.Database{
			Driver:   config.DatabaseDriverSQLite,
			Database: "test.db",
		},
		Heartbeat: config.Heartbeat{
			Interval:    5 * time.Second,
			ReaperTick:  time.Second,
			GraceWindow: 60 * time.Second,
		},
	}
}

// --- Redis Validation ---

func TestRedisValidateDisabled(t *testing.T) {
	t.Parallel()
	r := config.Redis{Enabled: false}
	if err := r.Validate(); err != nil {
		t.Errorf("Expected nil error for disabled Redis, got %v", err)
	}
}

func TestRedisValidateEmptyHost(t *testing.T) {
	t.Parallel()
	r := config.Redis{Enabled: true, Host: "", Port: 6379}
	if !errors.Is(r.Validate(), config.ErrInvalidRedisHost) {
		t.Errorf("Expected ErrInvalidRedisHost, got %v", r.Validate())
	}
}

func TestRedisValidateInvalidPort(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		port int
	}{
		{"zero", 0},
		{"negative", -1},
		{"too high", 70000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := config.Redis{Enabled: true, Host: "localhost", Port: tt.port}
			if !errors.Is(r.Validate(), config.ErrInvalidRedisPort) {
				t.Errorf("Expected ErrInvalidRedisPort for port %d, got %v", tt.port, r.Validate())
			}
		})
	}
}

func TestRedisValidateValid(t *testing.T) {
	t.Parallel()
	r := config.Redis{Enabled: true, Host: "localhost", Port: 6379}
	if err := r.Validate(); err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
}

func TestRedisValidateWithFieldsMultipleErrors(t *testing.T) {
	t.Parallel()
	r := config.Redis{Enabled: true, Host: "", Port: 0}
	errs := r.ValidateWithFields()
	if len(errs) != 2 {
		t.Fatalf("Expected 2 errors, got %d", len(errs))
	}
}

// --- Database Validation ---

func TestDatabaseValidateInvalidDriver(t *testing.T) {
	t.Parallel()
	d := config.Database{Driver: "invalid", Database: "test"}
	if !errors.Is(d.Validate(), config.ErrInvalidDatabaseDriver) {
		t.Errorf("Expected ErrInvalidDatabaseDriver, got %v", d.Validate())
	}
}

func TestDatabaseValidateSQLiteNoHost(t *testing.T) {
	t.Parallel()
	d := config.Database{Driver: config.DatabaseDriverSQLite, Database: "test.db"}
	if err := d.Validate(); err != nil {
		t.Errorf("Expected nil error for SQLite without host, got %v", err)
	}
}

func TestDatabaseValidatePostgresEmptyHost(t *testing.T) {
	t.Parallel()
	d := config.Database{Driver: config.DatabaseDriverPostgres, Host: "", Port: 5432, Database: "test"}
	if !errors.Is(d.Validate(), config.ErrInvalidDatabaseHost) {
		t.Errorf("Expected ErrInvalidDatabaseHost, got %v", d.Validate())
	}
}

func TestDatabaseValidatePostgresInvalidPort(t *testing.T) {
	t.Parallel()
	d := config.Database{Driver: config.DatabaseDriverPostgres, Host: "localhost", Port: 0, Database: "test"}
	if !errors.Is(d.Validate(), config.ErrInvalidDatabasePort) {
		t.Errorf("Expected ErrInvalidDatabasePort, got %v", d.Validate())
	}
}

func TestDatabaseValidateEmptyName(t *testing.T) {
	t.Parallel()
	d := config.Database{Driver: config.DatabaseDriverSQLite, Database: ""}
	if !errors.Is(d.Validate(), config.ErrInvalidDatabaseName) {
		t.Errorf("Expected ErrInvalidDatabaseName, got %v", d.Validate())
	}
}

func TestDatabaseValidatePostgresValid(t *testing.T) {
	t.Parallel()
	d := config.Database{Driver: config.DatabaseDriverPostgres, Host: "localhost", Port: 5432, Database: "test"}
	if err := d.Validate(); err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
}

func TestDatabaseValidateMySQLValid(t *testing.T) {
	t.Parallel()
	d := config.Database{Driver: config.DatabaseDriverMySQL, Host: "localhost", Port: 3306, Database: "test"}
	if err := d.Validate(); err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
}

// --- Metrics Validation ---

func TestMetricsValidateDisabled(t *testing.T) {
	t.Parallel()
	m := config.Metrics{Enabled: false}
	if err := m.Validate(); err != nil {
		t.Errorf("Expected nil error for disabled metrics, got %v", err)
	}
}

func TestMetricsValidateEmptyBind(t *testing.T) {
	t.Parallel()
	m := config.Metrics{Enabled: true, Bind: "", Port: 9100}
	if !errors.Is(m.Validate(), config.ErrInvalidMetricsBindAddress) {
		t.Errorf("Expected ErrInvalidMetricsBindAddress, got %v", m.Validate())
	}
}

func TestMetricsValidateInvalidPort(t *testing.T) {
	t.Parallel()
	m := config.Metrics{Enabled: true, Bind: "[::]", Port: 0}
	if !errors.Is(m.Validate(), config.ErrInvalidMetricsPort) {
		t.Errorf("Expected ErrInvalidMetricsPort, got %v", m.Validate())
	}
}

func TestMetricsValidateValid(t *testing.T) {
	t.Parallel()
	m := config.Metrics{Enabled: true, Bind: "[::]", Port: 9100}
	if err := m.Validate(); err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
}

// --- PProf Validation ---

func TestPProfValidateDisabled(t *testing.T) {
	t.Parallel()
	p := config.PProf{Enabled: false}
	if err := p.Validate(); err != nil {
		t.Errorf("Expected nil error for disabled pprof, got %v", err)
	}
}

func TestPProfValidateEmptyBind(t *testing.T) {
	t.Parallel()
	p := config.PProf{Enabled: true, Bind: "", Port: 9101}
	if !errors.Is(p.Validate(), config.ErrInvalidPProfBindAddress) {
		t.Errorf("Expected ErrInvalidPProfBindAddress, got %v", p.Validate())
	}
}

func TestPProfValidateInvalidPort(t *testing.T) {
	t.Parallel()
	p := config.PProf{Enabled: true, Bind: "[::1]", Port: -1}
	if !errors.Is(p.Validate(), config.ErrInvalidPProfPort) {
		t.Errorf("Expected ErrInvalidPProfPort, got %v", p.Validate())
	}
}

// --- AdminHTTP Validation ---

func TestAdminHTTPValidateDisabled(t *testing.T) {
	t.Parallel()
	a := config.AdminHTTP{Enabled: false}
	if err := a.Validate(); err != nil {
		t.Errorf("Expected nil error for disabled admin HTTP, got %v", err)
	}
}

func TestAdminHTTPValidateEmptyBind(t *testing.T) {
	t.Parallel()
	a := config.AdminHTTP{Enabled: true, Bind: "", Port: 8080}
	if !errors.Is(a.Validate(), config.ErrInvalidAdminHTTPBindAddress) {
		t.Errorf("Expected ErrInvalidAdminHTTPBindAddress, got %v", a.Validate())
	}
}

func TestAdminHTTPValidateInvalidPort(t *testing.T) {
	t.Parallel()
	a := config.AdminHTTP{Enabled: true, Bind: "[::]", Port: 70000}
	if !errors.Is(a.Validate(), config.ErrInvalidAdminHTTPPort) {
		t.Errorf("Expected ErrInvalidAdminHTTPPort, got %v", a.Validate())
	}
}

// --- Heartbeat Validation ---

func TestHeartbeatValidateZeroInterval(t *testing.T) {
	t.Parallel()
	h := config.Heartbeat{Interval: 0, ReaperTick: time.Second, GraceWindow: time.Minute}
	if !errors.Is(h.Validate(), config.ErrInvalidHeartbeatInterval) {
		t.Errorf("Expected ErrInvalidHeartbeatInterval, got %v", h.Validate())
	}
}

func TestHeartbeatValidateZeroReaperTick(t *testing.T) {
	t.Parallel()
	h := config.Heartbeat{Interval: 5 * time.Second, ReaperTick: 0, GraceWindow: time.Minute}
	if !errors.Is(h.Validate(), config.ErrInvalidReaperTick) {
		t.Errorf("Expected ErrInvalidReaperTick, got %v", h.Validate())
	}
}

func TestHeartbeatValidateZeroGraceWindow(t *testing.T) {
	t.Parallel()
	h := config.Heartbeat{Interval: 5 * time.Second, ReaperTick: time.Second, GraceWindow: 0}
	if !errors.Is(h.Validate(), config.ErrInvalidGraceWindow) {
		t.Errorf("Expected ErrInvalidGraceWindow, got %v", h.Validate())
	}
}

func TestHeartbeatValidateValid(t *testing.T) {
	t.Parallel()
	h := config.Heartbeat{Interval: 5 * time.Second, ReaperTick: time.Second, GraceWindow: time.Minute}
	if err := h.Validate(); err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
}

// --- Config Validation ---

func TestConfigValidateInvalidLogLevel(t *testing.T) {
	t.Parallel()
	c := makeValidConfig()
	c.LogLevel = "invalid"
	if !errors.Is(c.Validate(), config.ErrInvalidLogLevel) {
		t.Errorf("Expected ErrInvalidLogLevel, got %v", c.Validate())
	}
}

func TestConfigValidateInvalidRole(t *testing.T) {
	t.Parallel()
	c := makeValidConfig()
	c.Role = "invalid"
	if !errors.Is(c.Validate(), config.ErrInvalidRole) {
		t.Errorf("Expected ErrInvalidRole, got %v", c.Validate())
	}
}

func TestConfigValidateEmptySecret(t *testing.T) {
	t.Parallel()
	c := makeValidConfig()
	c.Secret = ""
	if !errors.Is(c.Validate(), config.ErrSecretRequired) {
		t.Errorf("Expected ErrSecretRequired, got %v", c.Validate())
	}
}

func TestConfigValidateEmptyPasswordSalt(t *testing.T) {
	t.Parallel()
	c := makeValidConfig()
	c.PasswordSalt = ""
	if !errors.Is(c.Validate(), config.ErrPasswordSaltRequired) {
		t.Errorf("Expected ErrPasswordSaltRequired, got %v", c.Validate())
	}
}

func TestConfigValidateValid(t *testing.T) {
	t.Parallel()
	c := makeValidConfig()
	if err := c.Validate(); err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
}

func TestConfigValidateAllLogLevels(t *testing.T) {
	t.Parallel()
	levels := []config.LogLevel{config.LogLevelDebug, config.LogLevelInfo, config.LogLevelWarn, config.LogLevelError}
	for _, level := range levels {
		t.Run(string(level), func(t *testing.T) {
			t.Parallel()
			c := makeValidConfig()
			c.LogLevel = level
			if err := c.Validate(); err != nil {
				t.Errorf("Expected nil error for log level %s, got %v", level, err)
			}
		})
	}
}

func TestConfigValidateAllRoles(t *testing.T) {
	t.Parallel()
	roles := []config.Role{config.RoleRegistry, config.RoleBackend, config.RoleProxy}
	for _, role := range roles {
		t.Run(string(role), func(t *testing.T) {
			t.Parallel()
			c := makeValidConfig()
			c.Role = role
			if err := c.Validate(); err != nil {
				t.Errorf("Expected nil error for role %s, got %v", role, err)
			}
		})
	}
}

func TestConfigValidateWithFieldsReturnsMultipleErrors(t *testing.T) {
	t.Parallel()
	c := config.Config{
		LogLevel:     "invalid",
		Role:         "invalid",
		Secret:       "",
		PasswordSalt: "",
		Redis: config.Redis{
			Enabled: true,
			Host:    "",
			Port:    0,
		},
		Database: config.Database{
			Driver:   "invalid",
			Database: "",
		},
	}
	errs := c.ValidateWithFields()
	if len(errs) < 5 {
		t.Fatalf("Expected at least 5 errors, got %d: %v", len(errs), errs)
	}
}

// --- GetDerivedSecret ---

func TestGetDerivedSecret(t *testing.T) {
	t.Parallel()
	c := config.Config{
		Secret:       "mysecret",
		PasswordSalt: "mysalt",
	}
	key := c.GetDerivedSecret()
	if len(key) != 32 {
		t.Errorf("Expected key length 32, got %d", len(key))
	}
}

func TestGetDerivedSecretDeterministic(t *testing.T) {
	t.Parallel()
	c := config.Config{
		Secret:       "mysecret",
		PasswordSalt: "mysalt",
	}
	key1 := c.GetDerivedSecret()
	key2 := c.GetDerivedSecret()
	for i := range key1 {
		if key1[i] != key2[i] {
			t.Errorf("Expected identical keys, got different at index %d", i)
			break
		}
	}
}

func TestGetDerivedSecretDifferentInputs(t *testing.T) {
	t.Parallel()
	c1 := config.Config{Secret: "secret1", PasswordSalt: "salt"}
	c2 := config.Config{Secret: "secret2", PasswordSalt: "salt"}
	key1 := c1.GetDerivedSecret()
	key2 := c2.GetDerivedSecret()
	same := true
	for i := range key1 {
		if key1[i] != key2[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("Expected different keys for different secrets")
	}
}
