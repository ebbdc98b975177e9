package model

import "fmt"

type Tier string

const (
	TierHigh   Tier = "HIGH"
	TierMedium Tier = "MEDIUM"
	TierLow    Tier = "LOW"
)

// Message returns the text shown to the user next to the prediction.
func (t Tier) Message() string {
	switch t {
	case TierHigh:
		return "Prediksi sangat yakin"
	case TierMedium:
		return "Prediksi cukup yakin"
	default:
		return "Prediksi kurang yakin"
	}
}

// Thresholds are the confidence cut points. A confidence equal to a cut
// point falls into the lower tier.
type Thresholds struct {
	High   float64 `json:"high"`
	Medium float64 `json:"medium"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{High: 0.75, Medium: 0.5}
}

func (th Thresholds) Validate() error {
	if th.Medium < 0 || th.High > 1 || th.Medium >= th.High {
		return fmt.Errorf("thresholds must satisfy 0 <= medium < high <= 1, got medium=%v high=%v", th.Medium, th.High)
	}
	return nil
}

func (th Thresholds) Tier(confidence float64) Tier {
	switch {
	case confidence > th.High:
		return TierHigh
	case confidence > th.Medium:
		return TierMedium
	default:
		return TierLow
	}
}
