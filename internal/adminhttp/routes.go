// SPDX-License-Identifier: AGPL-3.0-or-later

package adminhttp

import (
	"net/http"

	"github.com/USA-RedDragon/fulcrum/internal/envelope"
	"github.com/USA-RedDragon/fulcrum/internal/registry"
	"github.com/gin-gonic/gin"
)

// directoryEntryView is the JSON shape served for one registry directory
// entry; it flattens registry.Entry's accessor methods into plain fields.
type directoryEntryView struct {
	PermanentID     string              `json:"permanentId"`
	Role            envelope.Role       `json:"role"`
	Family          string              `json:"family"`
	Address         string              `json:"address"`
	Status          envelope.Status     `json:"status"`
	Load            envelope.LoadMetrics `json:"load"`
	LastHeartbeatAt string              `json:"lastHeartbeatAt"`
}

// slotFamilyView is one backend's advertised capacity for one slot family.
type slotFamilyView struct {
	BackendID   string   `json:"backendId"`
	FamilyID    string   `json:"familyId"`
	MaxSlots    int      `json:"maxSlots"`
	ActiveSlots int      `json:"activeSlots"`
	Variants    []string `json:"variants"`
}

func directorySnapshot(svc *registry.Service) []directoryEntryView {
	entries := svc.Directory.List()
	out := make([]directoryEntryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, directoryEntryView{
			PermanentID:     e.PermanentID,
			Role:            e.Role,
			Family:          e.Family,
			Address:         e.Address,
			Status:          e.Status(),
			Load:            e.Load(),
			LastHeartbeatAt: e.LastHeartbeatAt().UTC().Format(timeFormat),
		})
	}
	return out
}

const timeFormat = "2006-01-02T15:04:05.000Z"

func slotsSnapshot(svc *registry.Service) []slotFamilyView {
	var out []slotFamilyView
	for _, e := range svc.Directory.List() {
		for _, adv := range e.SlotFamilies() {
			out = append(out, slotFamilyView{
				BackendID:   e.PermanentID,
				FamilyID:    adv.FamilyID,
				MaxSlots:    adv.MaxSlots,
				ActiveSlots: adv.ActiveSlots,
				Variants:    adv.Variants,
			})
		}
	}
	return out
}

func applyRoutes(r *gin.Engine, svc *registry.Service, h *hub) {
	v1 := r.Group("/api/v1")
	v1.GET("/directory", func(c *gin.Context) {
		c.JSON(http.StatusOK, directorySnapshot(svc))
	})
	v1.GET("/slots", func(c *gin.Context) {
		c.JSON(http.StatusOK, slotsSnapshot(svc))
	})
	v1.GET("/shutdown-intents", func(c *gin.Context) {
		c.JSON(http.StatusOK, svc.Intents.List())
	})

	r.GET("/ws/directory", func(c *gin.Context) {
		h.serveWS(c.Writer, c.Request)
	})
}
