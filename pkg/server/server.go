// Package server is the HTTP face of the repository node: repository
// management, content upload/download, browse listings, and the
// replication feed peers pull from.
package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"repofs/pkg/log"
	"repofs/pkg/storage"
)

const shutdownTimeout = 10

type Server struct {
	storage *storage.Storage
	echo    *echo.Echo
	dataDir string
	version string
	started time.Time
	routes  sync.Once
}

func New(s *storage.Storage, dataDir, version string) *Server {
	return &Server{
		storage: s,
		echo:    echo.New(),
		dataDir: dataDir,
		version: version,
		started: time.Now(),
	}
}

func (srv *Server) Start(addr string) error {
	srv.setupRoutes()

	go func() {
		log.Info().
			Str("addr", addr).
			Str("data_dir", srv.dataDir).
			Str("version", srv.version).
			Msg("Starting repository server")

		if err := srv.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server startup failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	return srv.Shutdown()
}

func (srv *Server) Shutdown() error {
	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout*time.Second)
	defer cancel()

	if err := srv.echo.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
		return err
	}
	if err := srv.storage.Close(); err != nil {
		log.Error().Err(err).Msg("Closing storage failed")
		return err
	}

	log.Info().Msg("Server gracefully stopped")
	return nil
}

// Handler returns the fully routed HTTP handler.
func (srv *Server) Handler() http.Handler {
	srv.setupRoutes()
	return srv.echo
}

func (srv *Server) setupRoutes() {
	srv.routes.Do(srv.registerRoutes)
}

func (srv *Server) registerRoutes() {
	srv.echo.HideBanner = true
	srv.echo.HidePort = true
	srv.echo.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "${time_rfc3339} ${status} ${method} ${uri} (${latency_human})\n",
	}))
	srv.echo.Use(middleware.Recover())

	srv.echo.GET("/node/info", srv.getNodeInfo)

	srv.echo.POST("/repositories", srv.createRepository)
	srv.echo.GET("/repositories", srv.listRepositories)
	srv.echo.DELETE("/repositories/:repo", srv.deleteRepository)

	srv.echo.PUT("/repositories/:repo/content/*", srv.uploadAsset)
	srv.echo.GET("/repositories/:repo/content/*", srv.downloadAsset)
	srv.echo.DELETE("/repositories/:repo/content/*", srv.deleteAsset)

	srv.echo.GET("/repositories/:repo/browse", srv.browsePath)
	srv.echo.GET("/repositories/:repo/browse/*", srv.browsePath)

	srv.echo.GET("/replication/changes", srv.replicationChanges)
}
