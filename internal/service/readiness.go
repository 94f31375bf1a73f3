package service

import "sync/atomic"

// Readiness is an immutable snapshot of which models are loaded.
type Readiness struct {
	EncoderReady    bool `json:"encoder_ready"`
	RerankerReady   bool `json:"reranker_ready"`
	RerankerEnabled bool `json:"reranker_enabled"`
}

// SearchReady reports whether every model a search needs is loaded.
func (r Readiness) SearchReady() bool {
	return r.EncoderReady && (!r.RerankerEnabled || r.RerankerReady)
}

// ReadinessTracker publishes readiness snapshots. Capabilities only move
// from not ready to ready; nothing ever marks them not ready again.
type ReadinessTracker struct {
	current atomic.Pointer[Readiness]
}

// NewReadinessTracker starts with nothing loaded.
func NewReadinessTracker(rerankerEnabled bool) *ReadinessTracker {
	t := &ReadinessTracker{}
	t.current.Store(&Readiness{RerankerEnabled: rerankerEnabled})
	return t
}

// Snapshot returns the current readiness record.
func (t *ReadinessTracker) Snapshot() Readiness {
	return *t.current.Load()
}

// MarkEncoderReady records that the encoder finished loading.
func (t *ReadinessTracker) MarkEncoderReady() {
	t.update(func(r *Readiness) { r.EncoderReady = true })
}

// MarkRerankerReady records that the reranker finished loading.
func (t *ReadinessTracker) MarkRerankerReady() {
	t.update(func(r *Readiness) { r.RerankerReady = true })
}

func (t *ReadinessTracker) update(apply func(*Readiness)) {
	for {
		old := t.current.Load()
		next := *old
		apply(&next)
		if t.current.CompareAndSwap(old, &next) {
			return
		}
	}
}
