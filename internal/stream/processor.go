// Package stream holds producer-side frame preparation: deciding, frame
// by frame, whether to ship full pixels or an XOR delta against the
// previous frame.
package stream

import (
	"time"

	"github.com/AsmirZukic/Perun/internal/protocol"
	"github.com/AsmirZukic/Perun/internal/util"
)

// deltaDensityCutoff is the fraction of changed bytes above which a delta
// stops being worth sending; past it a keyframe costs the same and resets
// accumulated loss.
const deltaDensityCutoff = 0.5

// Processor turns raw frames into video packets. Deltas are only emitted
// while they stay sparse; a keyframe is forced on the first frame, on a
// size change, and at least once per KeyframeInterval so a consumer that
// dropped a lossy frame can resynchronize.
type Processor struct {
	// KeyframeInterval bounds the time between two full frames.
	KeyframeInterval time.Duration

	lastFrame    []byte
	lastKeyframe time.Time
	frameCount   uint64
}

// NewProcessor creates a processor with a one second keyframe interval.
func NewProcessor() *Processor {
	return &Processor{KeyframeInterval: time.Second}
}

// Process consumes one raw frame and returns the packet to send along
// with its flags. The returned frame's Data aliases neither input nor
// internal state.
func (p *Processor) Process(width, height uint16, frame []byte) (protocol.VideoFrame, uint8) {
	defer func() {
		p.lastFrame = append(p.lastFrame[:0], frame...)
		p.frameCount++
	}()

	force := p.lastKeyframe.IsZero() ||
		time.Since(p.lastKeyframe) >= p.KeyframeInterval ||
		len(p.lastFrame) != len(frame)

	if !force {
		delta, err := protocol.ComputeDelta(frame, p.lastFrame)
		if err == nil && sparse(delta) {
			if p.frameCount%60 == 0 {
				util.LogDebug("frame #%d: delta, %d bytes", p.frameCount, len(delta))
			}
			return protocol.VideoFrame{Width: width, Height: height, Data: delta}, protocol.FlagDelta
		}
	}

	p.lastKeyframe = time.Now()
	data := make([]byte, len(frame))
	copy(data, frame)
	if p.frameCount%60 == 0 {
		util.LogDebug("frame #%d: keyframe, %d bytes", p.frameCount, len(data))
	}
	return protocol.VideoFrame{Width: width, Height: height, Data: data}, 0
}

// sparse reports whether few enough bytes changed for the delta to be
// worth sending.
func sparse(delta []byte) bool {
	if len(delta) == 0 {
		return true
	}
	changed := 0
	for _, b := range delta {
		if b != 0 {
			changed++
		}
	}
	return float64(changed) < deltaDensityCutoff*float64(len(delta))
}
