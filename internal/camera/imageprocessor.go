package camera

import (
	"context"
	"sync"
)

// Frame is the processed result of one exposure's raw buffer: the
// original bytes plus basic per-frame statistics. No FITS/TIFF
// encoding is performed; that belongs to a downstream consumer.
type Frame struct {
	Raw    []byte
	IsDark bool
	Min    byte
	Max    byte
	Mean   float64
}

// ImageProcessor turns a raw exposure buffer into a Frame, tracking
// aggregate dark/light counts across calls.
type ImageProcessor struct {
	mu         sync.Mutex
	darkCount  uint64
	lightCount uint64
}

func NewImageProcessor() *ImageProcessor { return &ImageProcessor{} }

// Process computes min/max/mean over raw and records whether it was a
// dark or light frame. ctx is accepted for symmetry with the other
// camera components and future cancellable processing (e.g. hot-pixel
// maps); it is not consulted today.
func (p *ImageProcessor) Process(ctx context.Context, raw []byte, isDark bool) (*Frame, error) {
	frame := &Frame{Raw: raw, IsDark: isDark}
	if len(raw) > 0 {
		frame.Min, frame.Max = raw[0], raw[0]
		var sum uint64
		for _, b := range raw {
			if b < frame.Min {
				frame.Min = b
			}
			if b > frame.Max {
				frame.Max = b
			}
			sum += uint64(b)
		}
		frame.Mean = float64(sum) / float64(len(raw))
	}

	p.mu.Lock()
	if isDark {
		p.darkCount++
	} else {
		p.lightCount++
	}
	p.mu.Unlock()

	return frame, nil
}

func (p *ImageProcessor) Counts() (dark, light uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.darkCount, p.lightCount
}
