package models

import "time"

// SupportResistance is a per-symbol snapshot of recent price levels,
// recomputed from the rolling bar window rather than maintained
// incrementally. Resistance holds up to 3 levels sorted descending,
// Support up to 3 sorted ascending.
type SupportResistance struct {
	Symbol       string    `json:"symbol"`
	Resistance   []float64 `json:"resistance"`
	Support      []float64 `json:"support"`
	CurrentPrice float64   `json:"current_price"`
	UpdatedAt    time.Time `json:"updated_at"`
}
