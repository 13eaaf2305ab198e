package detector

import (
	"sort"
	"time"

	"paper_trading/internal/models"
)

const maxLevels = 3

// calculateSupportResistance recomputes levels from the most recent
// SRWindow bars. Resistance is the up-to-3 highest deduplicated highs
// (descending), support the up-to-3 lowest deduplicated lows (ascending).
// Full recompute each time; windows are small enough that this is cheap.
func (d *Detector) calculateSupportResistance(symbol string, bars []priceBar, currentPrice float64) *models.SupportResistance {
	recent := bars
	if len(recent) > d.cfg.SRWindow {
		recent = recent[len(recent)-d.cfg.SRWindow:]
	}

	highs := make([]float64, 0, len(recent))
	lows := make([]float64, 0, len(recent))
	for _, b := range recent {
		highs = append(highs, b.High)
		lows = append(lows, b.Low)
	}

	clusteredHighs := dedupeLevels(highs, d.cfg.DedupePct)
	clusteredLows := dedupeLevels(lows, d.cfg.DedupePct)

	// Top 3 highs, highest first.
	resistance := clusteredHighs
	if len(resistance) > maxLevels {
		resistance = resistance[len(resistance)-maxLevels:]
	}
	reverse(resistance)

	// Bottom 3 lows, lowest first.
	support := clusteredLows
	if len(support) > maxLevels {
		support = support[:maxLevels]
	}

	return &models.SupportResistance{
		Symbol:       symbol,
		Resistance:   resistance,
		Support:      support,
		CurrentPrice: currentPrice,
		UpdatedAt:    time.Now(),
	}
}

// dedupeLevels sorts ascending and merges prices within pct of the
// previously kept level, keeping the first of each cluster.
func dedupeLevels(prices []float64, pct float64) []float64 {
	sorted := append([]float64(nil), prices...)
	sort.Float64s(sorted)

	var out []float64
	for _, p := range sorted {
		if len(out) > 0 {
			last := out[len(out)-1]
			if last > 0 && (p-last)/last < pct {
				continue
			}
		}
		out = append(out, p)
	}
	return out
}

func reverse(s []float64) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
