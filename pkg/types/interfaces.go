package types

import (
	"time"
)

// MetricsRecorder defines the metrics collection interface used by the engine
type MetricsRecorder interface {
	RecordOperation(operation string, duration time.Duration, err error)
	RecordCacheHit()
	RecordCacheMiss()
	RecordEviction()
	UpdateResidentNodes(count int)
	RecordPredicate(verdict string, duration time.Duration)
}

// Verdict labels passed to RecordPredicate.
const (
	VerdictAccept  = "accept"
	VerdictReject  = "reject"
	VerdictTimeout = "timeout"
	VerdictError   = "error"
)

// NopRecorder discards all metrics.
type NopRecorder struct{}

func (NopRecorder) RecordOperation(string, time.Duration, error) {}
func (NopRecorder) RecordCacheHit()                              {}
func (NopRecorder) RecordCacheMiss()                             {}
func (NopRecorder) RecordEviction()                              {}
func (NopRecorder) UpdateResidentNodes(int)                      {}
func (NopRecorder) RecordPredicate(string, time.Duration)        {}

var _ MetricsRecorder = NopRecorder{}
