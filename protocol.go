package xrsim

import "gitlab.com/akita/akita/v3/sim"

// FragmentHeaderBytes is the fixed on-wire size of the metadata that rides
// in front of every fragment payload.
const FragmentHeaderBytes = 32

// A FragmentMsg carries one bounded-size piece of an XR frame. Every
// fragment of a frame repeats the frame-level metadata so that a receiver
// can start reassembling from whichever fragment arrives first. FrameBytes
// is the size of the whole frame, not of this fragment.
type FragmentMsg struct {
	sim.MsgMeta

	FrameNumber         int
	CompressionLevel    int
	ReconstructionError float64
	FrameBytes          int
	GenTime             float64
	FragIndex           int
	TotalFragments      int
	PayloadBytes        int
}

// Meta returns the meta data of the message.
func (m *FragmentMsg) Meta() *sim.MsgMeta {
	return &m.MsgMeta
}
