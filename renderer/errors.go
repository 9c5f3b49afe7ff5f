package renderer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
)

// ErrSurfaceBusy is returned when the shared surface is acquired while
// another lease on it is still open.
var ErrSurfaceBusy = errors.New("shared surface is in use")

// CompileError is a failed Compile. Line is relative to the user's source,
// or 0 when the log did not name a line.
type CompileError struct {
	Message string
	Line    int
	Raw     string
}

func (e *CompileError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return e.Message
}

// DefaultReportInterval is the minimum spacing between runtime error
// reports.
const DefaultReportInterval = 2 * time.Second

// ErrorReporter forwards per-frame errors to a sink at most once per
// interval. Errors arriving in between are counted and dropped.
type ErrorReporter struct {
	interval time.Duration
	sink     func(error)
	now      func() time.Time

	mu         sync.Mutex
	last       time.Time
	suppressed int
}

// NewErrorReporter returns a reporter calling sink, or logging through glog
// when sink is nil.
func NewErrorReporter(interval time.Duration, sink func(error)) *ErrorReporter {
	if sink == nil {
		sink = func(err error) { glog.Errorf("render error: %v", err) }
	}
	return &ErrorReporter{interval: interval, sink: sink, now: time.Now}
}

// Report passes err to the sink unless a report went out within the
// interval. It returns whether err was forwarded.
func (r *ErrorReporter) Report(err error) bool {
	r.mu.Lock()
	now := r.now()
	if !r.last.IsZero() && now.Sub(r.last) < r.interval {
		r.suppressed++
		r.mu.Unlock()
		return false
	}
	r.last = now
	dropped := r.suppressed
	r.suppressed = 0
	r.mu.Unlock()

	if dropped > 0 {
		err = fmt.Errorf("%w (%d similar errors suppressed)", err, dropped)
	}
	r.sink(err)
	return true
}
