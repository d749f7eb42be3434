// SPDX-License-Identifier: AGPL-3.0-or-later

package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/USA-RedDragon/fulcrum/internal/bus"
	"github.com/USA-RedDragon/fulcrum/internal/channels"
	"github.com/USA-RedDragon/fulcrum/internal/envelope"
	"github.com/USA-RedDragon/fulcrum/internal/pubsub"
	"github.com/USA-RedDragon/fulcrum/internal/registry"
	"github.com/spf13/cobra"
)

// acknowledgeWindow is how long shutdown waits for a first phase update
// before concluding no target acknowledged the intent, per spec §6's
// "1 on invalid target" exit code.
const acknowledgeWindow = 5 * time.Second

// newShutdownCommand builds the out-of-band operator CLI's shutdown
// subcommand, per spec §6: "shutdown --targets <ids> --seconds <n> issues
// an intent. Exit code 0 on success, 1 on invalid target, 2 on timeout."
func newShutdownCommand() *cobra.Command {
	var targets []string
	var seconds int
	var force bool

	cmd := &cobra.Command{
		Use:               "shutdown",
		Short:             "Issue a shutdown intent against one or more targets",
		SilenceErrors:     true,
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runShutdown(cmd, targets, seconds, force)
		},
	}
	cmd.Flags().StringSliceVar(&targets, "targets", nil, "comma-separated permanent ids to shut down")
	cmd.Flags().IntVar(&seconds, "seconds", 30, "evacuation countdown in seconds")
	cmd.Flags().BoolVar(&force, "force", false, "skip the evacuation phase's player warnings")
	return cmd
}

// shutdownExitError carries the process exit code a failed shutdown
// invocation should report, per spec §6's exit code contract.
type shutdownExitError struct {
	code int
	msg  string
}

func (e *shutdownExitError) Error() string { return e.msg }

func runShutdown(cmd *cobra.Command, targets []string, seconds int, force bool) error {
	targets = trimEmpty(targets)
	if len(targets) == 0 {
		os.Exit(1)
		return &shutdownExitError{code: 1, msg: "shutdown: at least one --targets id is required"}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ps, err := pubsub.MakePubSub(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to pubsub: %w", err)
	}
	defer func() { _ = ps.Close() }()

	b := bus.New(ps, nil)
	defer func() { _ = b.Close() }()

	tracker := registry.NewIntentTracker()
	updates := make(chan envelope.ShutdownUpdate, 16)
	unsub, err := b.Subscribe(channels.ShutdownUpdate, func(env *envelope.Envelope) {
		update, err := envelope.DecodePayload[envelope.ShutdownUpdate](env)
		if err != nil {
			return
		}
		select {
		case updates <- update:
		default:
		}
	})
	if err != nil {
		return fmt.Errorf("failed subscribing to shutdown updates: %w", err)
	}
	defer func() { _ = unsub() }()

	intent, err := tracker.Issue(b, targets, seconds, force)
	if err != nil {
		return fmt.Errorf("failed issuing shutdown intent: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "issued shutdown intent %s targeting %s\n", intent.IntentID, strings.Join(targets, ","))

	deadline := time.Duration(seconds)*time.Second + 8*time.Second + 10*time.Second
	overall := time.After(deadline)
	acknowledged := false

	for {
		select {
		case update := <-updates:
			if update.IntentID != intent.IntentID {
				continue
			}
			acknowledged = true
			fmt.Fprintf(cmd.OutOrStdout(), "phase=%s affected=%v\n", update.Phase, update.AffectedPlayerIDs)
			if update.Phase == string(envelope.PhaseShutdown) {
				return nil
			}
		case <-time.After(acknowledgeWindow):
			if !acknowledged {
				os.Exit(1)
				return &shutdownExitError{code: 1, msg: "shutdown: no target acknowledged the intent"}
			}
		case <-overall:
			os.Exit(2)
			return &shutdownExitError{code: 2, msg: "shutdown: timed out waiting for final phase"}
		}
	}
}

func trimEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
