package log

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Trace is a list of labeled timestamps recorded while a buffer moves
// through the stages.
type Trace interface {
	Each(func(label string, atUs int64))
	Spent() int64
}

// TraceReporter writes buffer traces at debug level. Reports are rate
// limited so that tracing of every buffer never floods the output.
type TraceReporter struct {
	log     logrus.FieldLogger
	limiter *rate.Limiter
	sb      strings.Builder
}

// NewTraceReporter returns reporter that writes at most one trace per
// provided period.
func NewTraceReporter(l logrus.FieldLogger, every time.Duration) *TraceReporter {
	return &TraceReporter{
		log:     l,
		limiter: rate.NewLimiter(rate.Every(every), 1),
	}
}

// Report logs the trace if limiter allows it. It returns true if trace was
// written.
func (r *TraceReporter) Report(path string, t Trace) bool {
	if r == nil || !r.limiter.Allow() {
		return false
	}
	r.sb.Reset()
	t.Each(func(label string, at int64) {
		if r.sb.Len() > 0 {
			r.sb.WriteString(" > ")
		}
		r.sb.WriteString(label)
		r.sb.WriteByte('@')
		r.sb.WriteString(time.Duration(at * int64(time.Microsecond)).String())
	})
	r.log.WithFields(logrus.Fields{
		"path":    path,
		"spentUs": t.Spent(),
	}).Debug(r.sb.String())
	return true
}
