package qoe

import (
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("GlobalAggregate", func() {
	satisfiedUser := UserQoE{
		ExpectedFrames: 10,
		OnTimeCount:    10,
		SumError:       100,
		Satisfied:      true,
	}
	strugglingUser := UserQoE{
		ExpectedFrames: 10,
		OnTimeCount:    5,
		LostCount:      5,
		SumError:       5250,
		Satisfied:      false,
	}

	It("should publish once the last user has folded", func() {
		aggregate := NewGlobalAggregate(2, "")

		aggregate.Fold(satisfiedUser)
		Expect(aggregate.Published()).To(BeFalse())

		aggregate.Fold(strugglingUser)
		Expect(aggregate.Published()).To(BeTrue())

		s := aggregate.Summary()
		Expect(s.NumUsers).To(Equal(2))
		Expect(s.SatisfiedUsers).To(Equal(1))
		Expect(s.TotalFrames).To(Equal(20))
		Expect(s.TotalOnTimeFrames).To(Equal(15))
		Expect(s.GlobalMeanError).To(Equal(267.5))
		Expect(s.GlobalDelayReliability).To(Equal(0.75))
	})

	It("should not depend on the fold order", func() {
		a := NewGlobalAggregate(2, "")
		b := NewGlobalAggregate(2, "")

		a.Fold(satisfiedUser)
		a.Fold(strugglingUser)
		b.Fold(strugglingUser)
		b.Fold(satisfiedUser)

		Expect(a.Summary()).To(Equal(b.Summary()))
	})

	It("should refuse folds beyond the configured user count", func() {
		aggregate := NewGlobalAggregate(1, "")

		aggregate.Fold(satisfiedUser)
		aggregate.Fold(strugglingUser)

		Expect(aggregate.FoldedUsers()).To(Equal(1))
		Expect(aggregate.Summary().SatisfiedUsers).To(Equal(1))
		Expect(aggregate.Summary().TotalFrames).To(Equal(10))
	})

	It("should write a single-row summary file", func() {
		dir, err := os.MkdirTemp("", "xrsim-aggregate")
		Expect(err).To(BeNil())
		DeferCleanup(func() {
			os.RemoveAll(dir)
		})

		summaryPath := filepath.Join(dir, "global_qoe.csv")
		aggregate := NewGlobalAggregate(2, summaryPath)

		aggregate.Fold(satisfiedUser)
		aggregate.Fold(strugglingUser)

		content, err := os.ReadFile(summaryPath)
		Expect(err).To(BeNil())

		lines := strings.Split(strings.TrimSpace(string(content)), "\n")
		Expect(lines).To(HaveLen(2))
		Expect(lines[0]).To(HavePrefix("num_users,"))
		Expect(lines[1]).To(Equal("2,1,267.5,0.75,20,15"))
	})
})
