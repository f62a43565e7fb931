// Package graceful coordinates orderly shutdown of the HTTP server, runner,
// cron-scheduled components, and database pool on SIGINT/SIGTERM.
package graceful

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lsxsync/queue-service/internal/platform/logger"
)

// Shutdowner is any component with a bounded-time stop.
type Shutdowner interface {
	Shutdown(timeout time.Duration) error
}

// Manager shuts components down in registration order, then the HTTP
// server, then the database pool.
type Manager struct {
	server      *http.Server
	db          *sql.DB
	shutdowners []Shutdowner
	timeout     time.Duration
	logger      *logger.Logger
}

func NewManager(server *http.Server, db *sql.DB, timeout time.Duration, log *logger.Logger) *Manager {
	return &Manager{
		server:  server,
		db:      db,
		timeout: timeout,
		logger:  log,
	}
}

func (m *Manager) Register(s Shutdowner) {
	m.shutdowners = append(m.shutdowners, s)
}

// WaitForShutdown blocks until SIGINT/SIGTERM, then tears everything down.
func (m *Manager) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	m.logger.Info("shutting down gracefully", "event", "shutdown.start")

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	for _, s := range m.shutdowners {
		if err := s.Shutdown(m.timeout); err != nil {
			m.logger.Warn("component shutdown error", "event", "shutdown.component_error", "error", err)
		}
	}

	if err := m.server.Shutdown(ctx); err != nil {
		m.logger.Error("server forced shutdown", "event", "shutdown.server_error", "error", err)
	}

	if m.db != nil {
		if err := m.db.Close(); err != nil {
			m.logger.Warn("database close error", "event", "shutdown.db_error", "error", err)
		}
	}

	m.logger.Info("shutdown complete", "event", "shutdown.complete")
}
