package telemetry

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecorderCountsOutcomes(t *testing.T) {
	t.Parallel()

	r := NewRecorder()

	finish := r.Begin()
	require.EqualValues(t, 1, r.Snapshot().InFlight)
	finish(100, 2*time.Second, nil)
	finish(1000, time.Hour, errors.New("ignored: already finished"))

	r.Begin()(50, time.Second, errors.New("boom"))
	r.Rejected()
	r.Silent()

	snapshot := r.Snapshot()
	require.EqualValues(t, 2, snapshot.Requests)
	require.EqualValues(t, 1, snapshot.Succeeded)
	require.EqualValues(t, 1, snapshot.Failed)
	require.EqualValues(t, 1, snapshot.RejectedLoad)
	require.EqualValues(t, 1, snapshot.SkippedSilent)
	require.EqualValues(t, 0, snapshot.InFlight)
	require.EqualValues(t, 150, snapshot.Bytes)
	require.Equal(t, 3*time.Second, snapshot.InferenceTotal)
	require.Len(t, snapshot.Fields(), 8)
}

func TestRecorderNilSafe(t *testing.T) {
	t.Parallel()

	var r *Recorder
	r.Begin()(10, time.Second, nil)
	r.Rejected()
	r.Silent()
	require.Equal(t, Snapshot{}, r.Snapshot())
}

func TestRecorderConcurrentUse(t *testing.T) {
	t.Parallel()

	r := NewRecorder()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Begin()(1, time.Millisecond, nil)
		}()
	}
	wg.Wait()

	require.EqualValues(t, 50, r.Snapshot().Succeeded)
	require.EqualValues(t, 0, r.Snapshot().InFlight)
}
