// SPDX-License-Identifier: AGPL-3.0-or-later
package config

import (
	"crypto/sha256"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

// Redis configures the production message bus transport and KV store.
// When Enabled is false, the bus and KV packages fall back to their
// in-memory implementations.
type Redis struct {
	Enabled  bool   `yaml:"enabled" default:"false"`
	Host     string `yaml:"host" default:"localhost"`
	Port     int    `yaml:"port" default:"6379"`
	Password string `yaml:"password"`
}

// Database configures the gorm-backed store for the registry's
// environment/config directory (see SPEC_FULL.md's Supplemented features).
type Database struct {
	Driver   DatabaseDriver `yaml:"driver" default:"sqlite"`
	Host     string         `yaml:"host"`
	Port     int            `yaml:"port"`
	Username string         `yaml:"username"`
	Password string         `yaml:"password"`
	Database string         `yaml:"database" default:"fulcrum.db"`
}

// Metrics configures the Prometheus metrics server and optional OTLP tracing.
type Metrics struct {
	Enabled      bool   `yaml:"enabled" default:"true"`
	Bind         string `yaml:"bind" default:"[::]"`
	Port         int    `yaml:"port" default:"9100"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// PProf configures the pprof profiling server.
type PProf struct {
	Enabled        bool     `yaml:"enabled" default:"false"`
	Bind           string   `yaml:"bind" default:"[::1]"`
	Port           int      `yaml:"port" default:"9101"`
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// AdminHTTP configures the read-only fleet dashboard API.
type AdminHTTP struct {
	Enabled bool     `yaml:"enabled" default:"false"`
	Bind    string   `yaml:"bind" default:"[::]"`
	Port    int      `yaml:"port" default:"8080"`
	Origins []string `yaml:"origins"`
}

// Heartbeat configures the interval emitters publish on and the registry
// reaper's thresholds, per spec §4.4.
type Heartbeat struct {
	// Interval is T_hb, the period between heartbeat publishes.
	Interval time.Duration `yaml:"interval" default:"5s"`
	// ReaperTick is how often the registry evaluates directory entries.
	ReaperTick time.Duration `yaml:"reaper_tick" default:"1s"`
	// GraceWindow is how long a dead entry's id is held before release.
	GraceWindow time.Duration `yaml:"grace_window" default:"60s"`
}

// Bus configures request/response timeouts for the message bus transport,
// per spec §4.2 and §5. ReconnectInitial, ReconnectMax and PublishQueueCap
// are not read by internal/bus, which uses a fixed 250ms-to-30s publish
// retry backoff and a fixed 1000-envelope outbox.
type Bus struct {
	RequestTimeout       time.Duration `yaml:"request_timeout" default:"5s"`
	RegistrationTimeout  time.Duration `yaml:"registration_timeout" default:"10s"`
	SlotProvisionTimeout time.Duration `yaml:"slot_provision_timeout" default:"5s"`
	ReconnectInitial     time.Duration `yaml:"reconnect_initial" default:"250ms"`
	ReconnectMax         time.Duration `yaml:"reconnect_max" default:"30s"`
	PublishQueueCap      int           `yaml:"publish_queue_cap" default:"1000"`
}

// SlotFamily declares one slot family a backend advertises capacity for,
// per spec §3's slot family advertisement record.
type SlotFamily struct {
	ID       string   `yaml:"id"`
	MaxSlots int      `yaml:"max_slots" default:"4"`
	Variants []string `yaml:"variants"`
}

// Slot configures backend-side slot orchestration defaults, per spec §4.6.
type Slot struct {
	ProvisionQueueDepth int           `yaml:"provision_queue_depth" default:"16"`
	IdleTimeout         time.Duration `yaml:"idle_timeout" default:"300s"`
	Families            []SlotFamily  `yaml:"families"`
}

// Shutdown configures the graceful-drain orchestrator's timing, per spec
// §4.8.
type Shutdown struct {
	// Buffer is how long the orchestrator waits after the evict phase before
	// entering the shutdown phase.
	Buffer time.Duration `yaml:"buffer" default:"3s"`
}

// Config stores the complete Fulcrum process configuration.
type Config struct {
	LogLevel     LogLevel  `yaml:"log_level" default:"info"`
	Role         Role      `yaml:"role" default:"backend"`
	FamilyPrefix string    `yaml:"family_prefix" default:"mini"`
	Address      string    `yaml:"address"`
	// Environment names which registry environment/config directory entry
	// (§4.5) this process belongs to; overridden by the ENVIRONMENT file at
	// the process root per spec §6.
	Environment string `yaml:"environment" default:"dev"`
	Secret       string    `yaml:"secret"`
	PasswordSalt string    `yaml:"password_salt"`
	Redis        Redis     `yaml:"redis"`
	Database     Database  `yaml:"database"`
	Metrics      Metrics   `yaml:"metrics"`
	PProf        PProf     `yaml:"pprof"`
	AdminHTTP    AdminHTTP `yaml:"admin_http"`
	Heartbeat    Heartbeat `yaml:"heartbeat"`
	Bus          Bus       `yaml:"bus"`
	Slot         Slot      `yaml:"slot"`
	Shutdown     Shutdown  `yaml:"shutdown"`
}

// GetDerivedSecret derives a 32-byte key from Secret and PasswordSalt, used
// as the bearer token guarding the operator-facing admin HTTP dashboard.
func (c Config) GetDerivedSecret() []byte {
	const iterations = 4096
	const keyLen = 32
	return pbkdf2.Key([]byte(c.Secret), []byte(c.PasswordSalt), iterations, keyLen, sha256.New)
}
