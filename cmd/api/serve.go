package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ansarisultan/lexachat-server/internal/db"
	"github.com/ansarisultan/lexachat-server/internal/httpapi"
	"github.com/ansarisultan/lexachat-server/internal/session"
)

const (
	shutdownTimeout    = 10 * time.Second
	sessionPurgePeriod = time.Hour
)

func runServe(ctx context.Context) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}

	database, err := db.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer database.Close()

	if cfg.AutoMigrate {
		if err := db.Migrate(ctx, database); err != nil {
			return fmt.Errorf("migrate db: %w", err)
		}
	}

	deps, err := httpapi.DefaultDependencies(cfg, logger)
	if err != nil {
		return err
	}
	handler := httpapi.NewHandler(cfg, database, logger, deps)
	defer handler.Close()

	srv := &http.Server{
		Addr:         cfg.ListenAddress(),
		Handler:      httpapi.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.ChatWriteTimeout(),
		IdleTimeout:  60 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.WithFields(log.Fields{
			"addr":        cfg.ListenAddress(),
			"environment": cfg.Environment,
		}).Info("API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Shutdown error")
		}
		return nil
	})
	group.Go(func() error {
		purgeSessions(groupCtx, session.NewStore(database), logger)
		return nil
	})

	return group.Wait()
}

// purgeSessions drops expired sessions until ctx is done.
func purgeSessions(ctx context.Context, store session.Store, logger log.FieldLogger) {
	ticker := time.NewTicker(sessionPurgePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.PurgeExpired(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logger.WithField("event", "session_purge_failed").WithError(err).Warn("Session purge failed")
				}
				continue
			}
			if removed > 0 {
				logger.WithFields(log.Fields{"event": "sessions_purged", "removed": removed}).Info("Expired sessions removed")
			}
		}
	}
}
