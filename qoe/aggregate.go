package qoe

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// A GlobalSummary is the cross-user reduction of one simulation run.
type GlobalSummary struct {
	NumUsers               int
	SatisfiedUsers         int
	GlobalMeanError        float64
	GlobalDelayReliability float64
	TotalFrames            int
	TotalOnTimeFrames      int
}

// A GlobalAggregate folds the per-user QoE of every receiver in one run
// into run-wide counters. It is constructed once per run and injected into
// every sink; when the last expected user has folded, the summary is
// computed and emitted exactly once.
type GlobalAggregate struct {
	numUsers    int
	summaryPath string
	log         *logrus.Entry

	foldedUsers         int
	satisfiedUsers      int
	totalSumError       float64
	totalExpectedFrames int
	totalOnTimeFrames   int
	published           bool
}

// NewGlobalAggregate creates an aggregate expecting numUsers folds.
// summaryPath may be empty to disable the CSV export.
func NewGlobalAggregate(numUsers int, summaryPath string) *GlobalAggregate {
	return &GlobalAggregate{
		numUsers:    numUsers,
		summaryPath: summaryPath,
		log:         logrus.WithField("component", "GlobalAggregate"),
	}
}

// Fold contributes one user's statistics. The fold counting as the last
// expected user publishes the global summary. Folds beyond the configured
// user count are refused.
func (a *GlobalAggregate) Fold(q UserQoE) {
	if a.foldedUsers >= a.numUsers {
		a.log.Warnf("refusing fold beyond the %d configured users",
			a.numUsers)
		return
	}

	a.foldedUsers++
	a.totalSumError += q.SumError
	a.totalExpectedFrames += q.ExpectedFrames
	a.totalOnTimeFrames += q.OnTimeCount
	if q.Satisfied {
		a.satisfiedUsers++
	}

	if a.foldedUsers == a.numUsers && !a.published {
		a.publish()
	}
}

// FoldedUsers returns how many users have reported so far.
func (a *GlobalAggregate) FoldedUsers() int {
	return a.foldedUsers
}

// Published reports whether the global summary has been emitted.
func (a *GlobalAggregate) Published() bool {
	return a.published
}

// Summary computes the cross-user statistics from the counters folded so
// far.
func (a *GlobalAggregate) Summary() GlobalSummary {
	s := GlobalSummary{
		NumUsers:          a.foldedUsers,
		SatisfiedUsers:    a.satisfiedUsers,
		TotalFrames:       a.totalExpectedFrames,
		TotalOnTimeFrames: a.totalOnTimeFrames,
	}

	if a.totalExpectedFrames > 0 {
		s.GlobalMeanError = a.totalSumError / float64(a.totalExpectedFrames)
		s.GlobalDelayReliability =
			float64(a.totalOnTimeFrames) / float64(a.totalExpectedFrames)
	}

	return s
}

func (a *GlobalAggregate) publish() {
	a.published = true
	s := a.Summary()

	a.log.Infof("global QoE: users=%d satisfied=%d meanError=%.4f "+
		"delayReliability=%.4f frames=%d onTime=%d",
		s.NumUsers, s.SatisfiedUsers, s.GlobalMeanError,
		s.GlobalDelayReliability, s.TotalFrames, s.TotalOnTimeFrames)

	if a.summaryPath == "" {
		return
	}

	f, err := os.Create(a.summaryPath)
	if err != nil {
		a.log.Warnf("cannot write global summary %s: %v", a.summaryPath, err)
		return
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			a.log.Warnf("closing global summary: %v", closeErr)
		}
	}()

	fmt.Fprintln(f, "num_users,satisfied_users,global_avg_mean_error,"+
		"global_delay_reliability,total_frames,total_ontime_frames")
	fmt.Fprintf(f, "%d,%d,%g,%g,%d,%d\n",
		s.NumUsers, s.SatisfiedUsers, s.GlobalMeanError,
		s.GlobalDelayReliability, s.TotalFrames, s.TotalOnTimeFrames)
}
