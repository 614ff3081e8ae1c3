package landmark

// Confidence is a detection-quality estimate constrained to [0,1].
//
// It is a distinct type rather than a bare float64 so that the fallback
// detector's ceiling is enforced where the value is produced: a synthetic
// source constructs its confidence through [Confidence.Cap] and the result
// cannot be silently treated as model-quality data downstream.
type Confidence float64

// Fallback sources never report above this ceiling; the primary detector may
// use the full [0,1] range.
const FallbackConfidenceCeiling Confidence = 0.5

// Clamp returns c restricted to [0,1].
func (c Confidence) Clamp() Confidence {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// Cap returns c clamped to [0,1] and bounded above by max.
func (c Confidence) Cap(max Confidence) Confidence {
	c = c.Clamp()
	if c > max {
		return max
	}
	return c
}

// Float64 returns the confidence as a plain float64.
func (c Confidence) Float64() float64 {
	return float64(c)
}
