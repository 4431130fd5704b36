package domain

import dErrors "github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/domain-errors"

// Confidence is a reliability score in [0, 1].
type Confidence struct {
	value float64
}

// Named levels used by the mapper.
var (
	ConfidenceHigh   = Confidence{value: 0.9}
	ConfidenceMedium = Confidence{value: 0.6}
	ConfidenceLow    = Confidence{value: 0.4}
	ConfidenceLowest = Confidence{value: 0.2}
	ConfidenceSecond = Confidence{value: 0.7}
	ConfidenceNone   = Confidence{}
)

const confidenceCeiling = 1.0

// NewConfidence validates the range.
func NewConfidence(value float64) (Confidence, error) {
	if value < 0 || value > confidenceCeiling {
		return Confidence{}, dErrors.New(dErrors.CodeInvalidInput, "confidence must be between 0 and 1")
	}
	return Confidence{value: value}, nil
}

// Value returns the score.
func (c Confidence) Value() float64 { return c.value }

// Plus adds delta and clamps to [0, 1].
func (c Confidence) Plus(delta float64) Confidence {
	v := c.value + delta
	if v > confidenceCeiling {
		v = confidenceCeiling
	}
	if v < 0 {
		v = 0
	}
	return Confidence{value: v}
}
