// Package api provides the HTTP REST API for UnitKey Core.
//
// It exposes device registration, key sharing, route pass issuance, and the
// issuance audit read to the platform's client applications. Callers
// authenticate with a session JWT minted by the platform's identity service;
// this server only verifies it.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/unitkey/unitkey-core/internal/device"
	"github.com/unitkey/unitkey-core/internal/infrastructure/config"
	"github.com/unitkey/unitkey-core/internal/infrastructure/database"
	"github.com/unitkey/unitkey-core/internal/infrastructure/influxdb"
	"github.com/unitkey/unitkey-core/internal/infrastructure/logging"
	"github.com/unitkey/unitkey-core/internal/infrastructure/mqtt"
	"github.com/unitkey/unitkey-core/internal/ledger"
	"github.com/unitkey/unitkey-core/internal/routepass"
	"github.com/unitkey/unitkey-core/internal/sharing"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	Security  config.SecurityConfig
	Logger    *logging.Logger
	DB        *database.DB
	Devices   *device.Store
	Sharing   *sharing.Ledger
	Issuer    *routepass.Issuer
	History   ledger.Repository
	Events    *mqtt.Events
	Bus       *mqtt.Client     // optional, health reporting only
	Metrics   *influxdb.Client // optional, health reporting only
	Version   string
}

// Server is the HTTP API server for UnitKey Core.
type Server struct {
	cfg       config.APIConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	db        *database.DB
	devices   *device.Store
	sharing   *sharing.Ledger
	issuer    *routepass.Issuer
	history   ledger.Repository
	events    *mqtt.Events
	bus       *mqtt.Client
	metrics   *influxdb.Client
	version   string
	server    *http.Server
}

// New creates a new API server with the given dependencies. The server is
// not started until Start is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Devices == nil || deps.Sharing == nil || deps.Issuer == nil || deps.History == nil {
		return nil, fmt.Errorf("device store, sharing ledger, issuer, and history are required")
	}
	if deps.Security.Session.JWTSecret == "" {
		return nil, fmt.Errorf("session JWT secret is required")
	}

	return &Server{
		cfg:       deps.Config,
		secCfg:    deps.Security,
		logger:    deps.Logger.With("component", "api"),
		db:        deps.DB,
		devices:   deps.Devices,
		sharing:   deps.Sharing,
		issuer:    deps.Issuer,
		history:   deps.History,
		events:    deps.Events,
		bus:       deps.Bus,
		metrics:   deps.Metrics,
		version:   deps.Version,
	}, nil
}

// Start begins listening for HTTP connections in a background goroutine.
func (s *Server) Start(_ context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.buildRouter(),
		ReadTimeout:  time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", "error", err)
		}
	}()

	s.logger.Info("api server started", "addr", addr, "tls", s.cfg.TLS.Enabled)
	return nil
}

// Close shuts the server down, waiting for in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down api server: %w", err)
	}
	s.logger.Info("api server stopped")
	return nil
}
