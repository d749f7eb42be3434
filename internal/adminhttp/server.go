// SPDX-License-Identifier: AGPL-3.0-or-later

// Package adminhttp serves the read-only fleet dashboard API described in
// SPEC_FULL.md's supplemented features: a snapshot of the registry's
// directory, active slots, and shutdown intents, plus a websocket stream
// that pushes a directory and slot snapshot on a fixed interval.
package adminhttp

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/USA-RedDragon/fulcrum/internal/config"
	"github.com/USA-RedDragon/fulcrum/internal/registry"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"
)

const (
	defReadHeaderTimeout = 3 * time.Second
	defReadTimeout       = 10 * time.Second
	shutdownTimeout      = 5 * time.Second
)

// ErrClosed is returned by Start once the server has shut down cleanly.
var ErrClosed = errors.New("adminhttp: server closed")

// Server is the read-only fleet dashboard's HTTP server.
type Server struct {
	*http.Server
	hub *hub
}

// NewServer constructs a Server bound to svc's directory, slot, and
// shutdown-intent views. It does not start listening until Start is called.
func NewServer(cfg *config.Config, svc *registry.Service) *Server {
	h := newHub(svc)

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	if cfg.Metrics.OTLPEndpoint != "" {
		r.Use(otelgin.Middleware("fulcrum-adminhttp"))
	}

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.AdminHTTP.Origins
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
	r.Use(cors.New(corsConfig))

	if cfg.Secret != "" {
		r.Use(bearerAuth(cfg.GetDerivedSecret()))
	}

	applyRoutes(r, svc, h)

	return &Server{
		Server: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.AdminHTTP.Bind, cfg.AdminHTTP.Port),
			Handler:           r,
			ReadTimeout:       defReadTimeout,
			ReadHeaderTimeout: defReadHeaderTimeout,
		},
		hub: h,
	}
}

// Start runs the hub's broadcast loop and blocks serving HTTP until the
// server is shut down, mirroring the errgroup-based lifecycle used
// elsewhere in Fulcrum's subsystem startup.
func (s *Server) Start() error {
	g := new(errgroup.Group)
	g.Go(func() error {
		s.hub.run()
		return nil
	})
	g.Go(func() error {
		if err := s.ListenAndServe(); err != nil {
			if errors.Is(err, http.ErrServerClosed) {
				return ErrClosed
			}
			return fmt.Errorf("adminhttp: server failed on %s: %w", s.Addr, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	return nil
}

// bearerAuth rejects requests whose Authorization header doesn't carry the
// hex-encoded derived secret, constant-time compared to avoid a timing
// side-channel. The dashboard has no session/login flow (see DESIGN.md's
// dropped-dependency ledger): a single shared operator token is all the
// trusted-network model described in spec §1 calls for.
func bearerAuth(want []byte) gin.HandlerFunc {
	wantHex := hex.EncodeToString(want)
	return func(c *gin.Context) {
		got := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(wantHex)) != 1 {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
}

// Stop gracefully shuts down the HTTP server and the websocket hub.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.hub.stop()
	if err := s.Shutdown(ctx); err != nil {
		slog.Error("adminhttp: failed to shut down cleanly", "error", err)
		return err
	}
	return nil
}
