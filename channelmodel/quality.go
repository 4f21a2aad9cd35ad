package channelmodel

// FrameQuality is the latest frame-level distortion/size report for one
// destination endpoint.
type FrameQuality struct {
	FrameNumber         int
	ReconstructionError float64
	SizeBytes           int
}

// A ChannelQualityRegistry remembers, per destination endpoint, the
// distortion and size of the frame currently in flight. Traffic generators
// publish into it once per frame; channel-side models read from it. It is
// handed to both sides explicitly rather than discovered.
type ChannelQualityRegistry struct {
	metrics map[string]FrameQuality
}

// NewChannelQualityRegistry creates an empty registry.
func NewChannelQualityRegistry() *ChannelQualityRegistry {
	return &ChannelQualityRegistry{
		metrics: make(map[string]FrameQuality),
	}
}

// RecordFrameMetrics stores the metrics of the frame about to be sent to
// dst, replacing the previous frame's entry.
func (r *ChannelQualityRegistry) RecordFrameMetrics(
	dst string,
	frameNumber int,
	reconstructionError float64,
	sizeBytes int,
) {
	r.metrics[dst] = FrameQuality{
		FrameNumber:         frameNumber,
		ReconstructionError: reconstructionError,
		SizeBytes:           sizeBytes,
	}
}

// Lookup returns the latest report for dst, if any.
func (r *ChannelQualityRegistry) Lookup(dst string) (FrameQuality, bool) {
	q, ok := r.metrics[dst]
	return q, ok
}
