package health

import (
	"fmt"
	"strings"
	"time"

	"github.com/filterfs/filterfs/pkg/errors"
	"github.com/filterfs/filterfs/pkg/types"
)

// Recorder derives component health from the engine's metrics stream and
// forwards every call to the wrapped recorder.
//
// The filter is failing when it cannot run or times out. The backend is
// failing when a backend_* operation reports an I/O error; not-found and
// permission outcomes are ordinary answers and count as success.
type Recorder struct {
	tracker *Tracker
	next    types.MetricsRecorder
}

var _ types.MetricsRecorder = (*Recorder)(nil)

// NewRecorder registers the filter and backend components on tracker.
func NewRecorder(tracker *Tracker, next types.MetricsRecorder) *Recorder {
	if next == nil {
		next = types.NopRecorder{}
	}
	tracker.RegisterComponent(ComponentFilter)
	tracker.RegisterComponent(ComponentBackend)
	return &Recorder{tracker: tracker, next: next}
}

func (r *Recorder) RecordOperation(operation string, duration time.Duration, err error) {
	if strings.HasPrefix(operation, "backend_") {
		switch errors.GetCode(err) {
		case errors.ErrCodeIO, errors.ErrCodeResourceExhausted:
			r.tracker.RecordError(ComponentBackend, err)
		default:
			r.tracker.RecordSuccess(ComponentBackend)
		}
	}
	r.next.RecordOperation(operation, duration, err)
}

func (r *Recorder) RecordPredicate(verdict string, duration time.Duration) {
	switch verdict {
	case types.VerdictError, types.VerdictTimeout:
		r.tracker.RecordError(ComponentFilter, fmt.Errorf("filter verdict %q", verdict))
	default:
		r.tracker.RecordSuccess(ComponentFilter)
	}
	r.next.RecordPredicate(verdict, duration)
}

func (r *Recorder) RecordCacheHit()               { r.next.RecordCacheHit() }
func (r *Recorder) RecordCacheMiss()              { r.next.RecordCacheMiss() }
func (r *Recorder) RecordEviction()               { r.next.RecordEviction() }
func (r *Recorder) UpdateResidentNodes(count int) { r.next.UpdateResidentNodes(count) }
