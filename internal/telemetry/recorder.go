// Package telemetry keeps process-wide transcription counters.
package telemetry

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Recorder tracks request totals. The zero value is ready to use and all
// methods are safe on a nil receiver.
type Recorder struct {
	requests       atomic.Uint64
	succeeded      atomic.Uint64
	failed         atomic.Uint64
	rejected       atomic.Uint64
	silent         atomic.Uint64
	inFlight       atomic.Int64
	bytes          atomic.Uint64
	inferenceNanos atomic.Int64
}

// Snapshot captures cumulative metrics recorded so far.
type Snapshot struct {
	Requests       uint64
	Succeeded      uint64
	Failed         uint64
	RejectedLoad   uint64
	SkippedSilent  uint64
	InFlight       int64
	Bytes          uint64
	InferenceTotal time.Duration
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

// Begin marks the start of a transcription request and returns a function
// that records its outcome. Only the first call of the returned function
// counts.
func (r *Recorder) Begin() func(size int64, inference time.Duration, err error) {
	if r == nil {
		return func(int64, time.Duration, error) {}
	}

	r.requests.Add(1)
	r.inFlight.Add(1)

	var done atomic.Bool
	return func(size int64, inference time.Duration, err error) {
		if !done.CompareAndSwap(false, true) {
			return
		}
		r.inFlight.Add(-1)
		if size > 0 {
			r.bytes.Add(uint64(size))
		}
		r.inferenceNanos.Add(int64(inference))
		if err != nil {
			r.failed.Add(1)
			return
		}
		r.succeeded.Add(1)
	}
}

// Rejected counts a request turned away because the model was not ready.
func (r *Recorder) Rejected() {
	if r == nil {
		return
	}
	r.rejected.Add(1)
}

// Silent counts an upload answered by the silence gate.
func (r *Recorder) Silent() {
	if r == nil {
		return
	}
	r.silent.Add(1)
}

func (r *Recorder) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	return Snapshot{
		Requests:       r.requests.Load(),
		Succeeded:      r.succeeded.Load(),
		Failed:         r.failed.Load(),
		RejectedLoad:   r.rejected.Load(),
		SkippedSilent:  r.silent.Load(),
		InFlight:       r.inFlight.Load(),
		Bytes:          r.bytes.Load(),
		InferenceTotal: time.Duration(r.inferenceNanos.Load()),
	}
}

// Fields renders the snapshot as zap fields for a summary log line.
func (s Snapshot) Fields() []zap.Field {
	return []zap.Field{
		zap.Uint64("requests", s.Requests),
		zap.Uint64("succeeded", s.Succeeded),
		zap.Uint64("failed", s.Failed),
		zap.Uint64("rejected_loading", s.RejectedLoad),
		zap.Uint64("skipped_silent", s.SkippedSilent),
		zap.Int64("in_flight", s.InFlight),
		zap.Uint64("bytes", s.Bytes),
		zap.Duration("inference_total", s.InferenceTotal),
	}
}
