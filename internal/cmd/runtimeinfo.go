// SPDX-License-Identifier: AGPL-3.0-or-later

package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/USA-RedDragon/fulcrum/internal/bus"
	"github.com/USA-RedDragon/fulcrum/internal/channels"
	"github.com/USA-RedDragon/fulcrum/internal/envelope"
	"github.com/USA-RedDragon/fulcrum/internal/pubsub"
	"github.com/spf13/cobra"
)

// runtimeInfoWindow is how long runtimeinfo listens to fleet broadcasts
// before printing its accumulated snapshot, per spec §6's "prints current
// directory and slot map".
const runtimeInfoWindow = 2 * time.Second

type fleetEntry struct {
	permanentID string
	role        envelope.Role
	address     string
	status      envelope.Status
}

type slotEntry struct {
	familyID    string
	maxSlots    int
	activeSlots int
}

// newRuntimeInfoCommand builds the out-of-band operator CLI's runtimeinfo
// subcommand: a thin bus client that prints the currently observable
// directory and slot map, per spec §6.
func newRuntimeInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:               "runtimeinfo",
		Short:             "Print the current directory and slot map observed on the bus",
		SilenceErrors:     true,
		DisableAutoGenTag: true,
		RunE:              runRuntimeInfo,
	}
}

func runRuntimeInfo(cmd *cobra.Command, _ []string) error {
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

	fleet := make(map[string]*fleetEntry)
	slots := make(map[string]*slotEntry)

	subs := []struct {
		channel string
		handler bus.Handler
	}{
		{channels.ServerAdded, func(env *envelope.Envelope) { recordFleet(fleet, env) }},
		{channels.ProxyAdded, func(env *envelope.Envelope) { recordFleet(fleet, env) }},
		{channels.StatusChange, func(env *envelope.Envelope) { recordStatusChange(fleet, env) }},
		{channels.SlotFamilyAdvertisement, func(env *envelope.Envelope) { recordSlotFamily(slots, env) }},
	}
	for _, sub := range subs {
		unsub, err := b.Subscribe(sub.channel, sub.handler)
		if err != nil {
			return fmt.Errorf("failed subscribing to %s: %w", sub.channel, err)
		}
		defer func() { _ = unsub() }()
	}

	fmt.Fprintf(cmd.OutOrStdout(), "collecting fleet state for %s...\n", runtimeInfoWindow)
	time.Sleep(runtimeInfoWindow)

	printRuntimeInfo(cmd, fleet, slots)
	return nil
}

func recordFleet(fleet map[string]*fleetEntry, env *envelope.Envelope) {
	comp, err := envelope.DecodePayload[envelope.FleetComposition](env)
	if err != nil {
		return
	}
	fleet[comp.PermanentID] = &fleetEntry{
		permanentID: comp.PermanentID,
		role:        comp.Role,
		address:     comp.Address,
		status:      envelope.StatusAvailable,
	}
}

func recordStatusChange(fleet map[string]*fleetEntry, env *envelope.Envelope) {
	change, err := envelope.DecodePayload[envelope.StatusChange](env)
	if err != nil {
		return
	}
	entry, ok := fleet[change.PermanentID]
	if !ok {
		entry = &fleetEntry{permanentID: change.PermanentID, role: change.Role}
		fleet[change.PermanentID] = entry
	}
	entry.status = change.Status
}

func recordSlotFamily(slots map[string]*slotEntry, env *envelope.Envelope) {
	adv, err := envelope.DecodePayload[envelope.SlotFamilyAdvertisement](env)
	if err != nil {
		return
	}
	key := env.SenderID + "/" + adv.FamilyID
	slots[key] = &slotEntry{familyID: adv.FamilyID, maxSlots: adv.MaxSlots, activeSlots: adv.ActiveSlots}
}

func printRuntimeInfo(cmd *cobra.Command, fleet map[string]*fleetEntry, slots map[string]*slotEntry) {
	out := cmd.OutOrStdout()
	wd, err := os.Getwd()
	if err == nil {
		fmt.Fprintf(out, "directory: %s\n\n", wd)
	}

	fmt.Fprintln(out, "fleet:")
	ids := make([]string, 0, len(fleet))
	for id := range fleet {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		e := fleet[id]
		fmt.Fprintf(out, "  %-16s role=%-8s address=%-22s status=%s\n", e.permanentID, e.role, e.address, e.status)
	}

	fmt.Fprintln(out, "\nslot families:")
	keys := make([]string, 0, len(slots))
	for k := range slots {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s := slots[k]
		fmt.Fprintf(out, "  %-24s active=%d/%d\n", k, s.activeSlots, s.maxSlots)
	}
}
