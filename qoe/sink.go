// Package qoe provides the receiving side of the XR traffic simulation:
// fragment reassembly, per-user quality-of-experience evaluation, and the
// cross-user aggregate.
package qoe

import (
	"fmt"
	"os"
	"reflect"

	"github.com/sirupsen/logrus"
	"github.com/syifan/xrsim"
	"gitlab.com/akita/akita/v3/sim"
)

// PenaltyError is the effective reconstruction error charged for frames
// that arrive late or never complete. It is far above any realistic
// reconstruction error, so late and lost frames always rank worse than any
// delivered frame.
const PenaltyError = 1000.0

// A ReceivedFrameRecord tracks the reassembly and classification of one
// frame at one receiver. DelayMs stays -1 until every fragment has arrived.
type ReceivedFrameRecord struct {
	FrameNumber         int
	CompressionLevel    int
	ReconstructionError float64
	SizeBytes           int
	GenTime             float64
	RecvTime            sim.VTimeInSec
	DelayMs             float64
	OnTime              bool
	EffectiveError      float64
	FragmentsSeen       int
	TotalFragments      int
}

// Config collects the knobs of a TrafficSink.
type Config struct {
	// DeadlineMs is the maximum end-to-end delay for a frame to count as
	// on-time. The boundary itself is on-time.
	DeadlineMs float64

	// ReliabilityThreshold is the delay reliability a user needs to count
	// as satisfied.
	ReliabilityThreshold float64

	// ExpectedTotalFrames is how many frames the sender was configured to
	// emit. Frame numbers 1..ExpectedTotalFrames are accounted for.
	ExpectedTotalFrames int

	// ResultFilePath, when non-empty, enables the per-frame CSV export.
	ResultFilePath string
}

// A TrafficSink reassembles arriving fragments into frames, measures their
// end-to-end delay against the deadline, and reduces the result into QoE
// statistics at teardown.
type TrafficSink struct {
	*sim.ComponentBase

	sim.TimeTeller

	cfg       Config
	aggregate *GlobalAggregate
	log       *logrus.Entry

	in         sim.Port
	records    map[int]*ReceivedFrameRecord
	resultFile *os.File
	finished   bool
}

// NewTrafficSink creates a new TrafficSink. The aggregate may be nil for a
// standalone receiver.
func NewTrafficSink(
	name string,
	tt sim.TimeTeller,
	cfg Config,
	aggregate *GlobalAggregate,
) *TrafficSink {
	s := &TrafficSink{
		TimeTeller: tt,
		cfg:        cfg,
		aggregate:  aggregate,
		log:        logrus.WithField("component", name),
		records:    make(map[int]*ReceivedFrameRecord),
	}

	s.ComponentBase = sim.NewComponentBase(name)

	if cfg.ResultFilePath != "" {
		f, err := os.Create(cfg.ResultFilePath)
		if err != nil {
			s.log.Warnf("cannot open result file %s: %v, export disabled",
				cfg.ResultFilePath, err)
		} else {
			s.resultFile = f
			fmt.Fprintln(f, "frameNumber,components,mse,sizeBytes,genTime,"+
				"recvTime,delay_ms,receivedOnTime,effectiveError,deadline_ms")
		}
	}

	return s
}

// Bind attaches the sink's incoming port.
func (s *TrafficSink) Bind(in sim.Port) {
	s.in = in
	s.AddPort("In", in)
}

// Handle function of a TrafficSink handles events. The sink schedules no
// events of its own.
func (s *TrafficSink) Handle(e sim.Event) error {
	panic("TrafficSink cannot handle event type " +
		reflect.TypeOf(e).String())
}

// NotifyPortFree function of a TrafficSink does nothing.
func (s *TrafficSink) NotifyPortFree(
	now sim.VTimeInSec,
	port sim.Port,
) {
}

// NotifyRecv function notifies that the sink has received a message.
func (s *TrafficSink) NotifyRecv(
	now sim.VTimeInSec,
	port sim.Port,
) {
	msg := port.Retrieve(now)
	switch msg := msg.(type) {
	case *xrsim.FragmentMsg:
		s.onFragment(msg)
	default:
		panic(fmt.Sprintf("Cannot handle message %T", msg))
	}
}

// onFragment folds one arriving fragment into the per-frame record set.
func (s *TrafficSink) onFragment(msg *xrsim.FragmentMsg) {
	now := s.CurrentTime()

	if msg.TotalFragments < 1 ||
		msg.FragIndex < 0 || msg.FragIndex >= msg.TotalFragments {
		s.log.Warnf("rejecting fragment of frame %d with index %d of %d",
			msg.FrameNumber, msg.FragIndex, msg.TotalFragments)
		return
	}

	rec, ok := s.records[msg.FrameNumber]
	if !ok {
		rec = &ReceivedFrameRecord{
			FrameNumber:         msg.FrameNumber,
			CompressionLevel:    msg.CompressionLevel,
			ReconstructionError: msg.ReconstructionError,
			SizeBytes:           msg.FrameBytes,
			GenTime:             msg.GenTime,
			RecvTime:            now,
			DelayMs:             -1,
			EffectiveError:      PenaltyError,
			FragmentsSeen:       1,
			TotalFragments:      msg.TotalFragments,
		}
		s.records[msg.FrameNumber] = rec
	} else {
		if msg.TotalFragments != rec.TotalFragments {
			s.log.Warnf("rejecting fragment of frame %d declaring %d "+
				"fragments, first fragment declared %d",
				msg.FrameNumber, msg.TotalFragments, rec.TotalFragments)
			return
		}

		if rec.FragmentsSeen == rec.TotalFragments {
			s.log.Debugf("ignoring duplicate fragment of completed frame %d",
				msg.FrameNumber)
			return
		}

		rec.FragmentsSeen++
		rec.RecvTime = now
	}

	if rec.FragmentsSeen == rec.TotalFragments {
		s.completeFrame(rec, now)
	}
}

// completeFrame classifies a fully reassembled frame.
func (s *TrafficSink) completeFrame(
	rec *ReceivedFrameRecord,
	now sim.VTimeInSec,
) {
	rec.DelayMs = (float64(now) - rec.GenTime) * 1000.0
	rec.OnTime = rec.DelayMs <= s.cfg.DeadlineMs

	if rec.OnTime {
		rec.EffectiveError = rec.ReconstructionError
	} else {
		rec.EffectiveError = PenaltyError
	}

	if s.resultFile != nil {
		onTime := 0
		if rec.OnTime {
			onTime = 1
		}
		fmt.Fprintf(s.resultFile, "%d,%d,%g,%d,%.9f,%.9f,%.6f,%d,%g,%g\n",
			rec.FrameNumber, rec.CompressionLevel, rec.ReconstructionError,
			rec.SizeBytes, rec.GenTime, float64(now), rec.DelayMs, onTime,
			rec.EffectiveError, s.cfg.DeadlineMs)
	}

	s.log.Debugf("frame %d complete: delay=%.3fms, onTime=%v, error=%g",
		rec.FrameNumber, rec.DelayMs, rec.OnTime, rec.EffectiveError)
}

// Record returns the record of one frame number, if any. Mostly useful for
// inspection after a run.
func (s *TrafficSink) Record(frameNumber int) (ReceivedFrameRecord, bool) {
	rec, ok := s.records[frameNumber]
	if !ok {
		return ReceivedFrameRecord{}, false
	}
	return *rec, true
}

// Finish tears the sink down: expected frames that never completed are
// recorded as lost, the per-user QoE is computed and folded into the shared
// aggregate, and the result file is closed. Calling Finish again does
// nothing.
func (s *TrafficSink) Finish() {
	if s.finished {
		return
	}
	s.finished = true

	s.detectLostFrames()

	q := s.QoE()
	s.logSummary(q)

	if s.aggregate != nil {
		s.aggregate.Fold(q)
	}

	if s.resultFile != nil {
		if err := s.resultFile.Close(); err != nil {
			s.log.Warnf("closing result file: %v", err)
		}
		s.resultFile = nil
	}
}

// detectLostFrames synthesizes a lost record for every expected frame
// number without one, so that every frame in 1..ExpectedTotalFrames is
// accounted for exactly once.
func (s *TrafficSink) detectLostFrames() {
	lostCount := 0

	for i := 1; i <= s.cfg.ExpectedTotalFrames; i++ {
		if _, ok := s.records[i]; ok {
			continue
		}

		s.records[i] = &ReceivedFrameRecord{
			FrameNumber:    i,
			DelayMs:        -1,
			EffectiveError: PenaltyError,
		}
		lostCount++

		if s.resultFile != nil {
			fmt.Fprintf(s.resultFile, "%d,0,0,0,0,0,-1,0,%g,%g\n",
				i, PenaltyError, s.cfg.DeadlineMs)
		}
	}

	s.log.Infof("%d of %d expected frames lost",
		lostCount, s.cfg.ExpectedTotalFrames)
}

// QoE reduces the record set into the per-user statistics. Frames that
// never completed contribute the penalty error and count as lost; frames
// that completed late still contribute their delay to the average.
func (s *TrafficSink) QoE() UserQoE {
	q := UserQoE{ExpectedFrames: s.cfg.ExpectedTotalFrames}

	for i := 1; i <= s.cfg.ExpectedTotalFrames; i++ {
		rec, ok := s.records[i]
		if !ok {
			// Finish has not run yet; treat as lost.
			q.SumError += PenaltyError
			q.LostCount++
			continue
		}

		q.SumError += rec.EffectiveError

		if rec.DelayMs >= 0 {
			q.ReceivedCount++
			q.SumDelayMs += rec.DelayMs

			if rec.OnTime {
				q.OnTimeCount++
			} else {
				q.LateCount++
			}
		} else {
			q.LostCount++
		}
	}

	if q.ExpectedFrames > 0 {
		q.DeliveryRatio = float64(q.ReceivedCount) / float64(q.ExpectedFrames)
		q.OnTimeRatio = float64(q.OnTimeCount) / float64(q.ExpectedFrames)
		q.LossRatio = float64(q.LostCount) / float64(q.ExpectedFrames)
		q.MeanError = q.SumError / float64(q.ExpectedFrames)
	}
	if q.ReceivedCount > 0 {
		q.AvgDelayMs = q.SumDelayMs / float64(q.ReceivedCount)
	}

	q.DelayReliability = q.OnTimeRatio
	q.Satisfied = q.DelayReliability >= s.cfg.ReliabilityThreshold

	return q
}

func (s *TrafficSink) logSummary(q UserQoE) {
	s.log.Infof("QoE summary: expected=%d received=%d onTime=%d late=%d "+
		"lost=%d meanError=%.4f avgDelay=%.3fms reliability=%.4f "+
		"satisfied=%v",
		q.ExpectedFrames, q.ReceivedCount, q.OnTimeCount, q.LateCount,
		q.LostCount, q.MeanError, q.AvgDelayMs, q.DelayReliability,
		q.Satisfied)
}

// UserQoE is the per-user reduction of one receiver's record set.
type UserQoE struct {
	ExpectedFrames int
	ReceivedCount  int
	OnTimeCount    int
	LateCount      int
	LostCount      int

	SumError   float64
	SumDelayMs float64

	DeliveryRatio    float64
	OnTimeRatio      float64
	LossRatio        float64
	MeanError        float64
	AvgDelayMs       float64
	DelayReliability float64
	Satisfied        bool
}
