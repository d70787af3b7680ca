package metrics

import (
	"sync/atomic"

	"github.com/athrael-soju/Snappy-sub001/pkg/ingest"
)

// eventSink adapts Metrics to ingest.EventSink so a Pipeline's event stream
// drives the Prometheus collectors directly rather than through a separate
// polling loop.
type eventSink struct {
	m        *Metrics
	inFlight int64
}

// NewEventSink wires m into a Pipeline's EventSink: StageCompleted drives
// RecordStage, BatchCompleted drives RecordPagesCompleted and the
// admission-permit gauge, and RegistryJoinTimedOut drives
// RecordRegistryJoinTimeout.
func NewEventSink(m *Metrics) ingest.EventSink {
	return &eventSink{m: m}
}

func (s *eventSink) Emit(e ingest.Event) {
	switch evt := e.(type) {
	case ingest.BatchStarted:
		n := atomic.AddInt64(&s.inFlight, 1)
		s.m.SetAdmissionPermitsInUse(int(n))
	case ingest.StageCompleted:
		s.m.RecordStage(string(evt.Stage), evt.Duration.Seconds())
	case ingest.BatchCompleted:
		s.m.RecordPagesCompleted(evt.Pages)
		n := atomic.AddInt64(&s.inFlight, -1)
		s.m.SetAdmissionPermitsInUse(int(n))
	case ingest.RegistryJoinTimedOut:
		s.m.RecordRegistryJoinTimeout(evt.Registry)
	}
}
