package qoe

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/mock/gomock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/syifan/xrsim"
	"gitlab.com/akita/akita/v3/sim"
)

func fragment(
	frame, index, total int,
	genTime, mse float64,
) *xrsim.FragmentMsg {
	return &xrsim.FragmentMsg{
		FrameNumber:         frame,
		CompressionLevel:    8,
		ReconstructionError: mse,
		FrameBytes:          total * 1000,
		GenTime:             genTime,
		FragIndex:           index,
		TotalFragments:      total,
		PayloadBytes:        1000,
	}
}

var _ = Describe("TrafficSink", func() {
	var (
		mockCtrl *gomock.Controller
		tt       *MockTimeTeller
		sink     *TrafficSink
	)

	deliver := func(msg *xrsim.FragmentMsg, at sim.VTimeInSec) {
		tt.EXPECT().CurrentTime().Return(at)
		sink.onFragment(msg)
	}

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		tt = NewMockTimeTeller(mockCtrl)
		sink = NewTrafficSink("Sink", tt, Config{
			DeadlineMs:           20,
			ReliabilityThreshold: 0.99,
			ExpectedTotalFrames:  2,
		}, nil)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should classify a prompt frame as on time", func() {
		deliver(fragment(1, 0, 1, 0, 42.5), 0.003)

		rec, ok := sink.Record(1)
		Expect(ok).To(BeTrue())
		Expect(rec.DelayMs).To(BeNumerically("~", 3, 1e-9))
		Expect(rec.OnTime).To(BeTrue())
		Expect(rec.EffectiveError).To(Equal(42.5))
	})

	It("should complete a frame only when all fragments arrived", func() {
		deliver(fragment(1, 2, 3, 0, 42.5), 0.001)
		deliver(fragment(1, 0, 3, 0, 42.5), 0.002)

		rec, _ := sink.Record(1)
		Expect(rec.DelayMs).To(Equal(-1.0))
		Expect(rec.FragmentsSeen).To(Equal(2))

		deliver(fragment(1, 1, 3, 0, 42.5), 0.004)

		rec, _ = sink.Record(1)
		Expect(rec.FragmentsSeen).To(Equal(3))
		Expect(rec.DelayMs).To(BeNumerically("~", 4, 1e-9))
		Expect(rec.OnTime).To(BeTrue())
	})

	It("should count a frame exactly at the deadline as on time", func() {
		sink = NewTrafficSink("Sink", tt, Config{
			DeadlineMs:          15.625,
			ExpectedTotalFrames: 1,
		}, nil)

		deliver(fragment(1, 0, 1, 0, 42.5), 0.015625)

		rec, _ := sink.Record(1)
		Expect(rec.DelayMs).To(Equal(15.625))
		Expect(rec.OnTime).To(BeTrue())
	})

	It("should charge the penalty error for a late frame", func() {
		deliver(fragment(1, 0, 1, 0, 42.5), 0.025)

		rec, _ := sink.Record(1)
		Expect(rec.OnTime).To(BeFalse())
		Expect(rec.EffectiveError).To(Equal(PenaltyError))
	})

	It("should reject fragments with inconsistent fragment counts", func() {
		deliver(fragment(1, 0, 3, 0, 42.5), 0.001)
		deliver(fragment(1, 1, 2, 0, 42.5), 0.002)

		rec, _ := sink.Record(1)
		Expect(rec.FragmentsSeen).To(Equal(1))
		Expect(rec.TotalFragments).To(Equal(3))
	})

	It("should reject fragments with an out-of-range index", func() {
		deliver(fragment(1, 3, 3, 0, 42.5), 0.001)
		deliver(fragment(1, -1, 3, 0, 42.5), 0.002)
		deliver(fragment(2, 0, 0, 0, 42.5), 0.003)

		_, ok := sink.Record(1)
		Expect(ok).To(BeFalse())
		_, ok = sink.Record(2)
		Expect(ok).To(BeFalse())
	})

	It("should ignore duplicates of a completed frame", func() {
		deliver(fragment(1, 0, 1, 0, 42.5), 0.003)
		deliver(fragment(1, 0, 1, 0, 42.5), 0.030)

		rec, _ := sink.Record(1)
		Expect(rec.FragmentsSeen).To(Equal(1))
		Expect(rec.DelayMs).To(BeNumerically("~", 3, 1e-9))
		Expect(rec.OnTime).To(BeTrue())
	})

	It("should account every expected frame exactly once", func() {
		sink = NewTrafficSink("Sink", tt, Config{
			DeadlineMs:          20,
			ExpectedTotalFrames: 5,
		}, nil)

		deliver(fragment(1, 0, 1, 0, 10), 0.003)
		deliver(fragment(3, 0, 1, 0.1, 20), 0.130)

		sink.Finish()

		q := sink.QoE()
		Expect(q.ReceivedCount).To(Equal(2))
		Expect(q.OnTimeCount).To(Equal(1))
		Expect(q.LateCount).To(Equal(1))
		Expect(q.LostCount).To(Equal(3))
		Expect(q.OnTimeCount + q.LateCount + q.LostCount).
			To(Equal(q.ExpectedFrames))

		rec, ok := sink.Record(4)
		Expect(ok).To(BeTrue())
		Expect(rec.EffectiveError).To(Equal(PenaltyError))
	})

	It("should reduce a run with one lost frame to the expected QoE", func() {
		sink = NewTrafficSink("Sink", tt, Config{
			DeadlineMs:           5,
			ReliabilityThreshold: 0.99,
			ExpectedTotalFrames:  2,
		}, nil)

		deliver(fragment(1, 0, 1, 0, 50), 0.003)
		sink.Finish()

		q := sink.QoE()
		Expect(q.MeanError).To(Equal(525.0))
		Expect(q.DelayReliability).To(Equal(0.5))
		Expect(q.Satisfied).To(BeFalse())
		Expect(q.AvgDelayMs).To(BeNumerically("~", 3, 1e-9))
	})

	It("should fold into the aggregate exactly once", func() {
		aggregate := NewGlobalAggregate(2, "")
		sink = NewTrafficSink("Sink", tt, Config{
			DeadlineMs:          20,
			ExpectedTotalFrames: 1,
		}, aggregate)

		deliver(fragment(1, 0, 1, 0, 42.5), 0.003)

		sink.Finish()
		sink.Finish()

		Expect(aggregate.FoldedUsers()).To(Equal(1))
	})

	It("should export one CSV row per expected frame", func() {
		dir, err := os.MkdirTemp("", "xrsim-qoe")
		Expect(err).To(BeNil())
		DeferCleanup(func() {
			os.RemoveAll(dir)
		})

		resultPath := filepath.Join(dir, "user_qoe.csv")
		sink = NewTrafficSink("Sink", tt, Config{
			DeadlineMs:          20,
			ExpectedTotalFrames: 3,
			ResultFilePath:      resultPath,
		}, nil)

		deliver(fragment(1, 0, 1, 0, 42.5), 0.003)
		deliver(fragment(2, 0, 1, 0.1, 40), 0.150)
		sink.Finish()

		content, err := os.ReadFile(resultPath)
		Expect(err).To(BeNil())

		lines := strings.Split(strings.TrimSpace(string(content)), "\n")
		Expect(lines).To(HaveLen(4))
		Expect(lines[0]).To(HavePrefix("frameNumber,"))
		Expect(lines[1]).To(HavePrefix("1,8,42.5,"))
		Expect(lines[3]).To(HavePrefix("3,0,0,"))
	})
})
