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

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/USA-RedDragon/configulator"
	"github.com/USA-RedDragon/fulcrum/internal/adminhttp"
	"github.com/USA-RedDragon/fulcrum/internal/bus"
	"github.com/USA-RedDragon/fulcrum/internal/config"
	"github.com/USA-RedDragon/fulcrum/internal/db"
	"github.com/USA-RedDragon/fulcrum/internal/envelope"
	"github.com/USA-RedDragon/fulcrum/internal/heartbeat"
	"github.com/USA-RedDragon/fulcrum/internal/identity"
	"github.com/USA-RedDragon/fulcrum/internal/kv"
	"github.com/USA-RedDragon/fulcrum/internal/metrics"
	"github.com/USA-RedDragon/fulcrum/internal/pprof"
	"github.com/USA-RedDragon/fulcrum/internal/pubsub"
	"github.com/USA-RedDragon/fulcrum/internal/registry"
	"github.com/USA-RedDragon/fulcrum/internal/routedispatcher"
	"github.com/USA-RedDragon/fulcrum/internal/shutdownorchestrator"
	"github.com/USA-RedDragon/fulcrum/internal/slotorchestrator"
	"github.com/go-co-op/gocron/v2"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/ztrue/shutdown"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// registrationAttempts bounds identity.Register's retry loop at boot, per
// spec §4.3's bounded registration retry policy.
const registrationAttempts = 5

// NewCommand builds the fulcrum root command plus the operator subcommands
// from spec §6.
func NewCommand(version, commit string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "fulcrum",
		Version: fmt.Sprintf("%s - %s", version, commit),
		Annotations: map[string]string{
			"version": version,
			"commit":  commit,
		},
		RunE:              runRoot,
		SilenceErrors:     true,
		DisableAutoGenTag: true,
	}
	cmd.AddCommand(newRuntimeInfoCommand())
	cmd.AddCommand(newShutdownCommand())
	return cmd
}

// loadConfig loads the process configuration directly via configulator,
// rather than threading a *configulator.Configulator through the cobra
// command's context: see DESIGN.md's Open Questions for why.
func loadConfig() (*config.Config, error) {
	c, err := configulator.New[config.Config]().Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.ApplyEnvironmentFile(c, "."); err != nil {
		return nil, fmt.Errorf("failed to read ENVIRONMENT file: %w", err)
	}
	return c, nil
}

func runRoot(cmd *cobra.Command, _ []string) error {
	fmt.Printf("fulcrum - %s (%s)\n", cmd.Annotations["version"], cmd.Annotations["commit"])

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogger(cfg)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	cleanup, err := setupTracing(cfg)
	if err != nil {
		return fmt.Errorf("failed to setup tracing: %w", err)
	}

	m := metrics.NewMetrics()
	startBackgroundServices(cfg, m)

	kvStore, err := kv.MakeKV(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to key-value store: %w", err)
	}

	ps, err := pubsub.MakePubSub(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to pubsub: %w", err)
	}

	b := bus.New(ps, m)

	var stopRole func()
	switch cfg.Role {
	case config.RoleRegistry:
		stopRole, err = runRegistry(cfg, b, kvStore, m, scheduler)
	case config.RoleBackend:
		stopRole, err = runBackend(ctx, cfg, b, m, scheduler, cmd.Annotations["version"])
	case config.RoleProxy:
		stopRole, err = runProxy(ctx, cfg, b, m, scheduler, cmd.Annotations["version"])
	default:
		err = fmt.Errorf("unknown role %q", cfg.Role)
	}
	if err != nil {
		return err
	}

	scheduler.Start()

	stop := func(sig os.Signal) {
		slog.Warn("shutting down due to signal", "signal", sig)
		wg := new(sync.WaitGroup)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := scheduler.StopJobs(); err != nil {
				slog.Error("failed to stop scheduler jobs", "error", err)
			}
			if err := scheduler.Shutdown(); err != nil {
				slog.Error("failed to stop scheduler", "error", err)
			}
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			stopRole()
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			const timeout = 5 * time.Second
			shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			if err := cleanup(shutdownCtx); err != nil {
				slog.Error("failed to shut down tracer", "error", err)
			}
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ps.Close(); err != nil {
				slog.Error("failed to close pubsub", "error", err)
			}
			if err := kvStore.Close(); err != nil {
				slog.Error("failed to close key-value store", "error", err)
			}
			if err := b.Close(); err != nil {
				slog.Error("failed to close bus", "error", err)
			}
		}()

		const timeout = 10 * time.Second
		done := make(chan struct{})
		go func() {
			defer close(done)
			wg.Wait()
		}()
		select {
		case <-done:
			slog.Info("shutdown safely completed")
			os.Exit(0)
		case <-time.After(timeout):
			slog.Error("shutdown timed out, forcing exit")
			os.Exit(1)
		}
	}

	shutdown.AddWithParam(stop)
	shutdown.Listen(syscall.SIGINT, syscall.SIGKILL, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)

	return nil
}

// setupLogger configures the structured logger every Fulcrum process uses:
// tint's colorized slog handler, leveled by configuration.
func setupLogger(cfg *config.Config) {
	var logger *slog.Logger
	switch cfg.LogLevel {
	case config.LogLevelDebug:
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelDebug}))
	case config.LogLevelInfo:
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelInfo}))
	case config.LogLevelWarn:
		logger = slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelWarn}))
	case config.LogLevelError:
		logger = slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelError}))
	default:
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelInfo}))
	}
	slog.SetDefault(logger)
}

// setupTracing initializes OpenTelemetry tracing when an OTLP endpoint is
// configured, and returns a no-op cleanup otherwise.
func setupTracing(cfg *config.Config) (func(context.Context) error, error) {
	if cfg.Metrics.OTLPEndpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	return initTracer(cfg)
}

func initTracer(cfg *config.Config) (func(context.Context) error, error) {
	exporter, err := otlptrace.New(
		context.Background(),
		otlptracegrpc.NewClient(
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithEndpoint(cfg.Metrics.OTLPEndpoint),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	resources, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", "fulcrum"),
			attribute.String("library.language", "go"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace resources: %w", err)
	}
	otel.SetTracerProvider(
		sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(resources),
		),
	)
	return exporter.Shutdown, nil
}

// startBackgroundServices starts the metrics and pprof HTTP servers.
func startBackgroundServices(cfg *config.Config, m *metrics.Metrics) {
	go func() {
		if err := metrics.CreateMetricsServer(cfg, m.Registry()); err != nil {
			slog.Error("metrics server failed", "error", err)
		}
	}()
	go func() {
		if err := pprof.CreatePProfServer(cfg); err != nil {
			slog.Error("pprof server failed", "error", err)
		}
	}()
}

// runRegistry starts the registry's directory, reaper, environment cache,
// instance-registry heartbeat, and optional admin dashboard.
func runRegistry(cfg *config.Config, b *bus.Bus, kvStore kv.KV, m *metrics.Metrics, scheduler gocron.Scheduler) (func(), error) {
	gdb, err := db.MakeDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	envDir, err := registry.NewEnvironmentDirectory(gdb)
	if err != nil {
		return nil, fmt.Errorf("failed to load environment directory: %w", err)
	}

	svc := registry.NewService(b, kvStore, m, envDir)
	if err := svc.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to start registry service: %w", err)
	}

	reaper := registry.NewReaper(svc.Directory, b, cfg.Heartbeat.Interval, cfg.Heartbeat.GraceWindow)
	if _, err := reaper.Schedule(scheduler, cfg.Heartbeat.ReaperTick); err != nil {
		return nil, fmt.Errorf("failed to schedule reaper: %w", err)
	}
	if _, err := svc.ScheduleInstanceRefresh(context.Background(), scheduler); err != nil {
		slog.Error("failed to schedule instance-registry refresh", "error", err)
	}

	var adminSrv *adminhttp.Server
	if cfg.AdminHTTP.Enabled {
		adminSrv = adminhttp.NewServer(cfg, svc)
		go func() {
			if err := adminSrv.Start(); err != nil {
				slog.Error("admin http server failed", "error", err)
			}
		}()
	}

	stop := func() {
		if adminSrv != nil {
			if err := adminSrv.Stop(); err != nil {
				slog.Error("failed stopping admin http server", "error", err)
			}
		}
		if err := svc.Stop(); err != nil {
			slog.Error("failed stopping registry service", "error", err)
		}
	}
	return stop, nil
}

// runBackend registers this process as a backend, then starts the slot
// orchestrator, heartbeat emitter, and shutdown orchestrator.
func runBackend(ctx context.Context, cfg *config.Config, b *bus.Bus, m *metrics.Metrics, scheduler gocron.Scheduler, version string) (func(), error) {
	id := identity.New(envelope.RoleBackend, cfg.FamilyPrefix, cfg.Address, version, nil)
	if err := identity.Register(ctx, b, id, cfg.Bus.RegistrationTimeout, registrationAttempts); err != nil {
		return nil, fmt.Errorf("failed to register with registry: %w", err)
	}
	unsubReregister, err := identity.ListenForReregistration(b, id)
	if err != nil {
		return nil, fmt.Errorf("failed subscribing for reregistration: %w", err)
	}
	permanentID := func() string {
		pid, _ := id.PermanentID()
		return pid
	}

	orch := slotorchestrator.NewOrchestrator(b, permanentID, cfg.Slot.Families, cfg.Slot.ProvisionQueueDepth, cfg.Slot.IdleTimeout, m)
	if err := orch.Start(); err != nil {
		return nil, fmt.Errorf("failed to start slot orchestrator: %w", err)
	}
	if err := orch.Advertise(); err != nil {
		slog.Error("failed advertising slot families", "error", err)
	}
	if _, err := orch.ScheduleIdleSweep(scheduler); err != nil {
		slog.Error("failed scheduling idle sweep", "error", err)
	}

	emitter := heartbeat.NewEmitter(b, id, orch.LoadSnapshot)
	if _, err := emitter.Schedule(scheduler, cfg.Heartbeat.Interval); err != nil {
		slog.Error("failed scheduling heartbeat", "error", err)
	}

	hooks := shutdownorchestrator.Hooks{
		Occupants: orch.OccupantIDs,
		Warn: func(secondsLeft int, affected []string) {
			slog.Info("shutdown evacuation warning", "secondsLeft", secondsLeft, "affected", len(affected))
		},
		EvictBackend: func(affected []string) {
			slog.Info("evicting occupants ahead of shutdown", "affected", len(affected))
		},
		Shutdown: func() {
			slog.Warn("shutdown orchestrator reached terminal phase, exiting")
			os.Exit(0)
		},
	}
	shutdownOrch := shutdownorchestrator.NewOrchestrator(b, envelope.RoleBackend, permanentID, hooks, cfg.Shutdown.Buffer)
	if err := shutdownOrch.Start(); err != nil {
		return nil, fmt.Errorf("failed to start shutdown orchestrator: %w", err)
	}

	stop := func() {
		if err := shutdownOrch.Stop(); err != nil {
			slog.Error("failed stopping shutdown orchestrator", "error", err)
		}
		if err := orch.Stop(); err != nil {
			slog.Error("failed stopping slot orchestrator", "error", err)
		}
		if err := unsubReregister(); err != nil {
			slog.Error("failed unsubscribing from reregistration broadcast", "error", err)
		}
	}
	return stop, nil
}

// runProxy registers this process as a proxy, then starts the local
// directory view, route dispatcher, heartbeat emitter, and shutdown
// orchestrator. The dispatcher is wired and ready to serve RouteShared and
// RouteNewSlot calls; the player-facing network frontend that would invoke
// them is outside this control plane's scope.
func runProxy(ctx context.Context, cfg *config.Config, b *bus.Bus, m *metrics.Metrics, scheduler gocron.Scheduler, version string) (func(), error) {
	id := identity.New(envelope.RoleProxy, "", cfg.Address, version, nil)
	if err := identity.Register(ctx, b, id, cfg.Bus.RegistrationTimeout, registrationAttempts); err != nil {
		return nil, fmt.Errorf("failed to register with registry: %w", err)
	}
	unsubReregister, err := identity.ListenForReregistration(b, id)
	if err != nil {
		return nil, fmt.Errorf("failed subscribing for reregistration: %w", err)
	}
	permanentID := func() string {
		pid, _ := id.PermanentID()
		return pid
	}

	view := routedispatcher.NewLocalView(b)
	if err := view.Start(); err != nil {
		return nil, fmt.Errorf("failed to start local directory view: %w", err)
	}
	_ = routedispatcher.NewDispatcher(b, view, permanentID, cfg.Bus.SlotProvisionTimeout, m)

	selectAlternatePeer := func() (string, bool) {
		return view.LeastLoadedProxy(permanentID())
	}

	emitter := heartbeat.NewEmitter(b, id, func() envelope.LoadMetrics { return envelope.LoadMetrics{} })
	if _, err := emitter.Schedule(scheduler, cfg.Heartbeat.Interval); err != nil {
		slog.Error("failed scheduling heartbeat", "error", err)
	}

	hooks := shutdownorchestrator.Hooks{
		Occupants: func() []string { return nil },
		Warn: func(secondsLeft int, affected []string) {
			slog.Info("shutdown evacuation warning", "secondsLeft", secondsLeft, "affected", len(affected))
		},
		SelectAlternatePeer: selectAlternatePeer,
		EvictBackend: func(affected []string) {
			slog.Info("evicting occupants ahead of shutdown", "affected", len(affected))
		},
		Shutdown: func() {
			slog.Warn("shutdown orchestrator reached terminal phase, exiting")
			os.Exit(0)
		},
	}
	shutdownOrch := shutdownorchestrator.NewOrchestrator(b, envelope.RoleProxy, permanentID, hooks, cfg.Shutdown.Buffer)
	if err := shutdownOrch.Start(); err != nil {
		return nil, fmt.Errorf("failed to start shutdown orchestrator: %w", err)
	}

	stop := func() {
		if err := shutdownOrch.Stop(); err != nil {
			slog.Error("failed stopping shutdown orchestrator", "error", err)
		}
		if err := view.Stop(); err != nil {
			slog.Error("failed stopping local directory view", "error", err)
		}
		if err := unsubReregister(); err != nil {
			slog.Error("failed unsubscribing from reregistration broadcast", "error", err)
		}
	}
	return stop, nil
}
