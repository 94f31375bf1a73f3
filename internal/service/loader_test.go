package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLoadable struct {
	err   error
	calls int
}

func (f *fakeLoadable) Load(ctx context.Context) error {
	f.calls++
	return f.err
}

type fakeProvisioner struct {
	err   error
	calls int
}

func (f *fakeProvisioner) EnsureCollection(ctx context.Context) error {
	f.calls++
	return f.err
}

func TestReadinessTracker_StartsNotReady(t *testing.T) {
	tr := NewReadinessTracker(true)
	snap := tr.Snapshot()
	assert.False(t, snap.EncoderReady)
	assert.False(t, snap.RerankerReady)
	assert.True(t, snap.RerankerEnabled)
	assert.False(t, snap.SearchReady())
}

func TestReadinessTracker_RerankDisabledNeedsOnlyEncoder(t *testing.T) {
	tr := NewReadinessTracker(false)
	tr.MarkEncoderReady()
	assert.True(t, tr.Snapshot().SearchReady())
}

func TestReadinessTracker_ConcurrentMarks(t *testing.T) {
	tr := NewReadinessTracker(true)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			tr.MarkEncoderReady()
		}()
		go func() {
			defer wg.Done()
			tr.MarkRerankerReady()
		}()
	}
	wg.Wait()

	snap := tr.Snapshot()
	assert.True(t, snap.EncoderReady)
	assert.True(t, snap.RerankerReady)
	assert.True(t, snap.SearchReady())
}

func TestLoader_Run(t *testing.T) {
	prov := &fakeProvisioner{}
	enc := &fakeLoadable{}
	rr := &fakeLoadable{}
	tr := NewReadinessTracker(true)

	require.NoError(t, NewLoader(prov, enc, rr, tr, nil).Run(context.Background()))

	assert.Equal(t, 1, prov.calls)
	assert.Equal(t, 1, enc.calls)
	assert.Equal(t, 1, rr.calls)
	assert.True(t, tr.Snapshot().SearchReady())
}

func TestLoader_RerankerFailureLeavesEncoderReady(t *testing.T) {
	tr := NewReadinessTracker(true)
	err := NewLoader(nil, &fakeLoadable{}, &fakeLoadable{err: errors.New("weights missing")}, tr, nil).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load reranker")

	snap := tr.Snapshot()
	assert.True(t, snap.EncoderReady)
	assert.False(t, snap.RerankerReady)
	assert.False(t, snap.SearchReady())
}

func TestLoader_ProvisionFailureStillLoadsModels(t *testing.T) {
	tr := NewReadinessTracker(false)
	err := NewLoader(&fakeProvisioner{err: errors.New("unavailable")}, &fakeLoadable{}, nil, tr, nil).Run(context.Background())
	require.Error(t, err)
	assert.True(t, tr.Snapshot().EncoderReady)
}
