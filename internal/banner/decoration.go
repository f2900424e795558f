package banner

import "math"

// Glyph is one of the fixed confetti symbols.
type Glyph string

// Glyphs is the alphabet decorations are drawn from.
var Glyphs = [...]Glyph{"🎉", "✨", "🎊", "🥳", "🌟", "🎈"}

// DecorationCount is the number of items produced per activation.
const DecorationCount = 18

// Sampling ranges. Lower bounds are inclusive, upper bounds exclusive.
const (
	maxXPercent   = 100.0
	maxYPercent   = 80.0
	minSizeRem    = 1.2
	sizeRemSpread = 1.5
	maxFallDelay  = 1.0
)

// Decoration is a single falling glyph of the overlay.
type Decoration struct {
	Glyph            Glyph   `json:"glyph"`
	XPercent         float64 `json:"x_percent"`
	YPercent         float64 `json:"y_percent"`
	SizeRem          float64 `json:"size_rem"`
	FallDelaySeconds float64 `json:"fall_delay_seconds"`
}

// Source is the subset of *rand.Rand (math/rand/v2) used for sampling.
type Source interface {
	Float64() float64
	IntN(n int) int
}

// GenerateDecorations returns count independently sampled decorations.
func GenerateDecorations(count int, src Source) []Decoration {
	if count <= 0 {
		return nil
	}
	out := make([]Decoration, count)
	for i := range out {
		out[i] = Decoration{
			XPercent:         scale(src.Float64(), 0, maxXPercent),
			YPercent:         scale(src.Float64(), 0, maxYPercent),
			SizeRem:          scale(src.Float64(), minSizeRem, minSizeRem+sizeRemSpread),
			FallDelaySeconds: scale(src.Float64(), 0, maxFallDelay),
			Glyph:            Glyphs[src.IntN(len(Glyphs))],
		}
	}
	return out
}

// scale maps u in [0,1) onto [lo,hi), keeping the result below hi when
// float rounding would otherwise land on it.
func scale(u, lo, hi float64) float64 {
	v := lo + u*(hi-lo)
	if v >= hi {
		v = math.Nextafter(hi, lo)
	}
	if v < lo {
		v = lo
	}
	return v
}
