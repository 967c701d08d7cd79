package indicators

import (
	"fmt"

	"chart-analyst/internal/models"
)

// VolumeRatio compares each volume with its trailing moving average.
// A value of 1.5 means volume is 50% above the average.
type VolumeRatio struct {
	period int
}

// NewVolumeRatio creates a new VolumeRatio indicator.
func NewVolumeRatio(period int) *VolumeRatio {
	return &VolumeRatio{period: period}
}

func (v *VolumeRatio) Name() string {
	return fmt.Sprintf("VOLUME_RATIO_%d", v.period)
}

func (v *VolumeRatio) Period() int {
	return v.period
}

func (v *VolumeRatio) Calculate(candles []models.Candle) ([]float64, error) {
	if v.period <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(candles) < v.period {
		return nil, ErrInsufficientData
	}

	vols := volumes(candles)
	result := make([]float64, len(candles))
	for i := v.period - 1; i < len(candles); i++ {
		avg := mean(vols[i-v.period+1 : i+1])
		if avg > 0 {
			result[i] = vols[i] / avg
		}
	}

	return result, nil
}
