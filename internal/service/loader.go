package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/knoguchi/learnpath/internal/vectorstore"
)

// Loadable is a model that needs a one-time blocking load before use.
type Loadable interface {
	Load(ctx context.Context) error
}

// Loader performs startup provisioning and model loading, publishing readiness.
type Loader struct {
	provisioner vectorstore.Provisioner
	encoder     Loadable
	reranker    Loadable
	tracker     *ReadinessTracker
	logger      *slog.Logger
}

// NewLoader creates a loader. reranker is nil when reranking is disabled.
func NewLoader(provisioner vectorstore.Provisioner, encoder, reranker Loadable, tracker *ReadinessTracker, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		provisioner: provisioner,
		encoder:     encoder,
		reranker:    reranker,
		tracker:     tracker,
		logger:      logger,
	}
}

// Run provisions the collection and loads each model once. A model that fails
// to load stays not ready for the lifetime of the process; the errors are
// returned joined.
func (l *Loader) Run(ctx context.Context) error {
	start := time.Now()
	var errs []error

	if l.provisioner != nil {
		if err := l.provisioner.EnsureCollection(ctx); err != nil {
			l.logger.Error("failed to provision vector collection", "error", err)
			errs = append(errs, fmt.Errorf("provision collection: %w", err))
		}
	}

	if l.encoder != nil {
		if err := l.encoder.Load(ctx); err != nil {
			l.logger.Error("failed to load encoder", "error", err)
			errs = append(errs, fmt.Errorf("load encoder: %w", err))
		} else {
			l.tracker.MarkEncoderReady()
		}
	}

	if l.reranker != nil {
		if err := l.reranker.Load(ctx); err != nil {
			l.logger.Error("failed to load reranker", "error", err)
			errs = append(errs, fmt.Errorf("load reranker: %w", err))
		} else {
			l.tracker.MarkRerankerReady()
		}
	}

	snap := l.tracker.Snapshot()
	l.logger.Info("startup loading finished",
		"encoder_ready", snap.EncoderReady,
		"reranker_ready", snap.RerankerReady,
		"reranker_enabled", snap.RerankerEnabled,
		"duration", time.Since(start),
	)

	return errors.Join(errs...)
}
