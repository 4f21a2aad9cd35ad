// Package trafficgen provides a traffic generator that paces XR frame
// emission and fragments frames into wire messages.
package trafficgen

import (
	"reflect"

	"github.com/sirupsen/logrus"
	"github.com/syifan/xrsim"
	"gitlab.com/akita/akita/v3/sim"
)

// A sendTimerEvent triggers the generator to emit the next frame.
type sendTimerEvent struct {
	time    sim.VTimeInSec
	handler *TrafficGenerator
}

// Time returns the time of the event.
func (e sendTimerEvent) Time() sim.VTimeInSec {
	return e.time
}

// Handler returns the handler of the event.
func (e sendTimerEvent) Handler() sim.Handler {
	return e.handler
}

// IsSecondary always returns false.
func (e sendTimerEvent) IsSecondary() bool {
	return false
}

// State is the lifecycle state of a TrafficGenerator.
type State int

// TrafficGenerator states.
const (
	StateIdle State = iota
	StateConnected
	StateEmitting
	StateDrained
	StateClosed
)

// A FrameMetricsRegistry is notified of a frame's distortion and size right
// before its first fragment is sent. The channel-quality model consumes
// these metrics; the generator only produces them.
type FrameMetricsRegistry interface {
	RecordFrameMetrics(
		dst string,
		frameNumber int,
		reconstructionError float64,
		sizeBytes int,
	)
}

// Config collects the knobs of a TrafficGenerator.
type Config struct {
	// FrameRate is the target emission rate in frames per second.
	FrameRate float64

	// MaxPayloadBytes is the fragmentation threshold. Frames larger than
	// this are split into multiple fragments.
	MaxPayloadBytes int

	// StartTime delays the first emission relative to KickStart.
	StartTime sim.VTimeInSec
}

// A TrafficGenerator replays a frame catalog as paced, fragmented wire
// messages over an unreliable channel.
type TrafficGenerator struct {
	*sim.ComponentBase

	sim.TimeTeller
	sim.EventScheduler

	cfg      Config
	jitter   JitterSampler
	registry FrameMetricsRegistry
	log      *logrus.Entry

	catalog        xrsim.Catalog
	out            sim.Port
	dst            sim.Port
	state          State
	nextFrameIndex int
	framesSent     int
}

// NewTrafficGenerator creates a new TrafficGenerator.
func NewTrafficGenerator(
	name string,
	tt sim.TimeTeller,
	es sim.EventScheduler,
	cfg Config,
	jitter JitterSampler,
) *TrafficGenerator {
	g := &TrafficGenerator{
		TimeTeller:     tt,
		EventScheduler: es,
		cfg:            cfg,
		jitter:         jitter,
		log:            logrus.WithField("component", name),
	}

	g.ComponentBase = sim.NewComponentBase(name)

	return g
}

// SetCatalog sets the frame catalog to replay.
func (g *TrafficGenerator) SetCatalog(catalog xrsim.Catalog) {
	g.catalog = catalog
}

// SetMetricsRegistry injects the optional frame metrics side channel.
func (g *TrafficGenerator) SetMetricsRegistry(registry FrameMetricsRegistry) {
	g.registry = registry
}

// Connect attaches the generator's outgoing port and resolves the
// destination endpoint. The generator becomes Connected.
func (g *TrafficGenerator) Connect(out, dst sim.Port) {
	g.out = out
	g.dst = dst
	g.AddPort("Out", out)
	g.state = StateConnected
}

// State returns the current lifecycle state.
func (g *TrafficGenerator) State() State {
	return g.state
}

// FramesSent returns how many frames have been emitted so far.
func (g *TrafficGenerator) FramesSent() int {
	return g.framesSent
}

// KickStart schedules the first send timer. The main program should still
// call engine.Run() to run the simulation.
func (g *TrafficGenerator) KickStart() {
	if g.dst == nil || g.out == nil {
		panic("destination endpoint is not resolved")
	}

	if len(g.catalog) == 0 {
		g.log.Warn("catalog is empty, no transmission scheduled")
		g.state = StateDrained
		return
	}

	g.state = StateEmitting

	firstSendTime := g.CurrentTime() + g.cfg.StartTime + g.interval()
	g.Schedule(sendTimerEvent{
		time:    firstSendTime,
		handler: g,
	})
}

// Close stops the generator. A pending send timer is ignored when it fires.
func (g *TrafficGenerator) Close() {
	g.state = StateClosed
}

// Handle function of a TrafficGenerator handles events.
func (g *TrafficGenerator) Handle(e sim.Event) error {
	switch e.(type) {
	case sendTimerEvent:
		if g.state != StateEmitting {
			return nil
		}
		g.emitFrame()
		g.scheduleNextFrame()
	default:
		panic("TrafficGenerator cannot handle event type " +
			reflect.TypeOf(e).String())
	}

	return nil
}

// NotifyRecv function of a TrafficGenerator drops incoming messages. A
// traffic source does not expect to receive data.
func (g *TrafficGenerator) NotifyRecv(
	now sim.VTimeInSec,
	port sim.Port,
) {
	msg := port.Retrieve(now)
	g.log.Warnf("unexpected message %T received, dropped", msg)
}

// NotifyPortFree function of a TrafficGenerator does nothing. Fragments
// rejected at send time are dropped, never retried.
func (g *TrafficGenerator) NotifyPortFree(
	now sim.VTimeInSec,
	port sim.Port,
) {
}

func (g *TrafficGenerator) emitFrame() {
	desc := g.catalog[g.nextFrameIndex]
	g.nextFrameIndex++

	if g.registry != nil {
		g.registry.RecordFrameMetrics(
			g.dst.Name(),
			desc.FrameNumber,
			desc.ReconstructionError,
			desc.SizeBytes,
		)
	}

	genTime := float64(g.CurrentTime())
	totalFragments := (desc.SizeBytes + g.cfg.MaxPayloadBytes - 1) /
		g.cfg.MaxPayloadBytes
	remainingBytes := desc.SizeBytes

	for fragIndex := 0; fragIndex < totalFragments; fragIndex++ {
		fragSize := remainingBytes
		if fragSize > g.cfg.MaxPayloadBytes {
			fragSize = g.cfg.MaxPayloadBytes
		}
		remainingBytes -= fragSize

		msg := &xrsim.FragmentMsg{
			FrameNumber:         desc.FrameNumber,
			CompressionLevel:    desc.CompressionLevel,
			ReconstructionError: desc.ReconstructionError,
			FrameBytes:          desc.SizeBytes,
			GenTime:             genTime,
			FragIndex:           fragIndex,
			TotalFragments:      totalFragments,
			PayloadBytes:        fragSize,
			MsgMeta: sim.MsgMeta{
				ID:           sim.GetIDGenerator().Generate(),
				Src:          g.out,
				Dst:          g.dst,
				SendTime:     g.CurrentTime(),
				TrafficBytes: fragSize + xrsim.FragmentHeaderBytes,
			},
		}

		err := g.out.Send(msg)
		if err != nil {
			g.log.Warnf("channel rejected fragment %d/%d of frame %d, "+
				"dropped", fragIndex, totalFragments, desc.FrameNumber)
		}
	}

	g.framesSent++

	g.log.Debugf("sent frame %d: level=%d, size=%d bytes, error=%.4f, "+
		"fragments=%d", desc.FrameNumber, desc.CompressionLevel,
		desc.SizeBytes, desc.ReconstructionError, totalFragments)
}

func (g *TrafficGenerator) scheduleNextFrame() {
	if g.nextFrameIndex >= len(g.catalog) {
		g.state = StateDrained
		g.log.Infof("catalog exhausted after %d frames", g.framesSent)
		return
	}

	g.Schedule(sendTimerEvent{
		time:    g.CurrentTime() + g.interval(),
		handler: g,
	})
}

// interval is the time until the next frame emission: the nominal frame
// period plus one jitter sample.
func (g *TrafficGenerator) interval() sim.VTimeInSec {
	jitterMs := 0.0
	if g.jitter != nil {
		jitterMs = g.jitter.Sample()
	}

	return sim.VTimeInSec(1.0/g.cfg.FrameRate + jitterMs/1000.0)
}
