// Package pump copies PTY output into Output frames on the wire with
// latency-sensitive batching: interactive keystrokes arrive with
// imperceptible latency, bulk output is not fragmented into a frame per
// tiny read.
package pump

import (
	"sync/atomic"
	"time"

	"github.com/comacode/comacode/internal/wire"
)

// Default thresholds, tunable within ±2x per spec.md §4.4.
const (
	SmallReadThreshold  = 256
	LargeBatchThreshold = 4096
	MaxLatency          = 5 * time.Millisecond
)

// Thresholds controls the smart-flush algorithm's batching behavior. A
// zero field falls back to the package default, so callers can override
// just one knob without restating the rest.
type Thresholds struct {
	SmallReadThreshold  int
	LargeBatchThreshold int
	MaxLatency          time.Duration
}

func (t Thresholds) withDefaults() Thresholds {
	if t.SmallReadThreshold == 0 {
		t.SmallReadThreshold = SmallReadThreshold
	}
	if t.LargeBatchThreshold == 0 {
		t.LargeBatchThreshold = LargeBatchThreshold
	}
	if t.MaxLatency == 0 {
		t.MaxLatency = MaxLatency
	}
	return t
}

// Sink is the write side of the stream the pump emits frames to. It is
// satisfied by the connection's *wire.FrameWriter.
type Sink interface {
	Send(msg wire.Message) error
}

// Stats is pump telemetry; the orchestrator logs it when a session ends.
type Stats struct {
	FramesEmitted  uint64
	BytesEmitted   uint64
	LatencyFlushes uint64
}

// Pump drains a channel of PTY output buffers into Output frames.
type Pump struct {
	source     <-chan []byte
	sink       Sink
	thresholds Thresholds

	framesEmitted  atomic.Uint64
	bytesEmitted   atomic.Uint64
	latencyFlushes atomic.Uint64
}

// New builds a Pump reading from source and writing Output frames to sink,
// using the package's default thresholds.
func New(source <-chan []byte, sink Sink) *Pump {
	return NewWithThresholds(source, sink, Thresholds{})
}

// NewWithThresholds builds a Pump with thresholds overridden from
// config.HostConfig; any zero-valued field in t uses the package default.
func NewWithThresholds(source <-chan []byte, sink Sink, t Thresholds) *Pump {
	return &Pump{source: source, sink: sink, thresholds: t.withDefaults()}
}

// Stats returns a snapshot of pump telemetry.
func (p *Pump) Stats() Stats {
	return Stats{
		FramesEmitted:  p.framesEmitted.Load(),
		BytesEmitted:   p.bytesEmitted.Load(),
		LatencyFlushes: p.latencyFlushes.Load(),
	}
}

// Run drives the smart-flush algorithm from spec.md §4.4 until source is
// closed (PTY EOF), then emits any remainder and returns.
func (p *Pump) Run() error {
	var accumulator []byte
	timer := time.NewTimer(p.thresholds.MaxLatency)
	if !timer.Stop() {
		<-timer.C
	}
	timerArmed := false

	flush := func() error {
		if len(accumulator) == 0 {
			return nil
		}
		if err := p.emit(accumulator); err != nil {
			return err
		}
		accumulator = nil
		if timerArmed {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timerArmed = false
		}
		return nil
	}

	for {
		var timerC <-chan time.Time
		if timerArmed {
			timerC = timer.C
		}

		select {
		case chunk, ok := <-p.source:
			if !ok {
				return flush()
			}

			accumulator = append(accumulator, chunk...)

			smallTyping := len(chunk) <= p.thresholds.SmallReadThreshold && len(accumulator) <= 2*p.thresholds.SmallReadThreshold
			bulkBatch := len(accumulator) >= p.thresholds.LargeBatchThreshold

			switch {
			case smallTyping, bulkBatch:
				if err := flush(); err != nil {
					return err
				}
			default:
				if !timerArmed {
					timer.Reset(p.thresholds.MaxLatency)
					timerArmed = true
				}
			}

		case <-timerC:
			timerArmed = false
			p.latencyFlushes.Add(1)
			if err := flush(); err != nil {
				return err
			}
		}
	}
}

func (p *Pump) emit(data []byte) error {
	frame := make([]byte, len(data))
	copy(frame, data)
	if err := p.sink.Send(wire.Output(frame)); err != nil {
		return err
	}
	p.framesEmitted.Add(1)
	p.bytesEmitted.Add(uint64(len(frame)))
	return nil
}
