package detector

import (
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"paper_trading/internal/events"
	"paper_trading/internal/market"
	"paper_trading/internal/models"
)

// Config tunes the detector. Zero values are replaced by defaults in New.
type Config struct {
	LookbackPeriod   int     // rolling window capacity
	MinVolumeSamples int     // samples needed before detection runs
	VolumeThreshold  float64 // |z-score| above which volume is abnormal
	MinVolume        int64   // absolute floor against illiquid false positives
	SRWindow         int     // bars per support/resistance recompute
	MaxPositionSize  float64 // dollar cap per auto-trade
	BuyingPowerFrac  float64 // fraction of buying power per auto-trade
	ImbalanceRatio   float64 // bid/ask size ratio that flags an imbalance
	ProximityPct     float64 // distance to a level that counts as "near"
	DedupePct        float64 // levels closer than this fraction merge
}

func (c *Config) applyDefaults() {
	if c.LookbackPeriod <= 0 {
		c.LookbackPeriod = 20
	}
	if c.MinVolumeSamples <= 0 {
		c.MinVolumeSamples = 10
	}
	if c.VolumeThreshold <= 0 {
		c.VolumeThreshold = 2.5
	}
	if c.MinVolume <= 0 {
		c.MinVolume = 100000
	}
	if c.SRWindow <= 0 {
		c.SRWindow = 20
	}
	if c.MaxPositionSize <= 0 {
		c.MaxPositionSize = 10000
	}
	if c.BuyingPowerFrac <= 0 {
		c.BuyingPowerFrac = 0.10
	}
	if c.ImbalanceRatio <= 0 {
		c.ImbalanceRatio = 3.0
	}
	if c.ProximityPct <= 0 {
		c.ProximityPct = 0.01
	}
	if c.DedupePct <= 0 {
		c.DedupePct = 0.005
	}
}

// priceBar is the slice of a bar the detector keeps.
type priceBar struct {
	High, Low, Close float64
	Timestamp        time.Time
}

// window is the per-symbol rolling state. Volumes and bars slide together,
// FIFO, capped at LookbackPeriod. Mutations are serialized by mu.
type window struct {
	mu        sync.Mutex
	volumes   []int64
	bars      []priceBar
	lastPrice float64
	levels    *models.SupportResistance
}

// Detector scans streaming volume data for statistical anomalies and
// reacts by submitting trades through the configured sink.
type Detector struct {
	cfg    Config
	trader market.Trader
	bus    *events.Bus

	mu      sync.RWMutex // guards the windows map (the watch set)
	windows map[string]*window
}

// New builds a detector. trader may be the virtual ledger or the live
// brokerage, depending on deployment mode.
func New(cfg Config, trader market.Trader, bus *events.Bus) *Detector {
	cfg.applyDefaults()
	return &Detector{
		cfg:     cfg,
		trader:  trader,
		bus:     bus,
		windows: make(map[string]*window),
	}
}

// AddSymbol puts a symbol on the watch set. No-op if already watched.
func (d *Detector) AddSymbol(symbol string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.windows[symbol]; !ok {
		d.windows[symbol] = &window{}
		log.Printf("👁️ Watching %s", symbol)
	}
}

// RemoveSymbol drops a symbol and discards its accumulated state
// immediately. The removal is atomic: readers see the full window or none.
func (d *Detector) RemoveSymbol(symbol string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.windows[symbol]; ok {
		delete(d.windows, symbol)
		log.Printf("🙈 Unwatched %s, state discarded", symbol)
	}
}

// Watchlist returns the watched symbols, sorted.
func (d *Detector) Watchlist() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.windows))
	for s := range d.windows {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// GetSupportResistance returns the latest levels snapshot for a symbol,
// or false if the symbol is unwatched or not enough bars accumulated yet.
func (d *Detector) GetSupportResistance(symbol string) (*models.SupportResistance, bool) {
	w := d.lookup(symbol)
	if w == nil {
		return nil, false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.levels == nil {
		return nil, false
	}
	cp := *w.levels
	cp.Resistance = append([]float64(nil), w.levels.Resistance...)
	cp.Support = append([]float64(nil), w.levels.Support...)
	return &cp, true
}

func (d *Detector) lookup(symbol string) *window {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.windows[symbol]
}

// Warmup seeds every watched symbol's rolling window from recent bar
// history so detection is armed right after startup instead of waiting a
// full accumulation period. Replayed bars never alert or trade; only live
// stream data does. One symbol's fetch failure never blocks the rest.
func (d *Detector) Warmup(provider market.MarketProvider) {
	for _, symbol := range d.Watchlist() {
		bars, err := provider.GetBars(symbol, d.cfg.LookbackPeriod)
		if err != nil {
			log.Printf("⚠️ Warmup: bar fetch failed for %s: %v", symbol, err)
			continue
		}
		if len(bars) == 0 {
			continue
		}
		w := d.lookup(symbol)
		if w == nil {
			continue
		}

		w.mu.Lock()
		for _, b := range bars {
			w.volumes = append(w.volumes, b.Volume)
			w.bars = append(w.bars, priceBar{
				High:      b.High.InexactFloat64(),
				Low:       b.Low.InexactFloat64(),
				Close:     b.Close.InexactFloat64(),
				Timestamp: b.Timestamp,
			})
		}
		if n := len(w.volumes); n > d.cfg.LookbackPeriod {
			w.volumes = w.volumes[n-d.cfg.LookbackPeriod:]
		}
		if n := len(w.bars); n > d.cfg.LookbackPeriod {
			w.bars = w.bars[n-d.cfg.LookbackPeriod:]
		}
		w.lastPrice = bars[len(bars)-1].Close.InexactFloat64()
		if len(w.bars) >= d.cfg.SRWindow {
			w.levels = d.calculateSupportResistance(symbol, w.bars, w.lastPrice)
		}
		w.mu.Unlock()
		log.Printf("🔥 Warmed %s with %d historical bars", symbol, len(bars))
	}
}

// Ingest dispatches one streamed market event by kind. Events for symbols
// outside the watch set are dropped.
func (d *Detector) Ingest(ev models.MarketEvent) {
	w := d.lookup(ev.Symbol)
	if w == nil {
		return
	}

	switch ev.Kind {
	case models.KindBar:
		if ev.Bar != nil {
			d.onBar(ev.Symbol, w, ev.Bar)
		}
	case models.KindTrade:
		if ev.Trade != nil {
			w.mu.Lock()
			w.lastPrice = ev.Trade.Price.InexactFloat64()
			w.mu.Unlock()
		}
	case models.KindQuote:
		if ev.Quote != nil {
			d.onQuote(ev.Symbol, ev.Quote)
		}
	}
}

// onBar appends the sample, slides the window, and runs detection once
// enough history exists. The trade heuristic (which does I/O) runs after
// the window lock is released.
func (d *Detector) onBar(symbol string, w *window, bar *models.Bar) {
	w.mu.Lock()

	w.volumes = append(w.volumes, bar.Volume)
	w.bars = append(w.bars, priceBar{
		High:      bar.High.InexactFloat64(),
		Low:       bar.Low.InexactFloat64(),
		Close:     bar.Close.InexactFloat64(),
		Timestamp: bar.Timestamp,
	})
	if len(w.volumes) > d.cfg.LookbackPeriod {
		w.volumes = w.volumes[1:]
	}
	if len(w.bars) > d.cfg.LookbackPeriod {
		w.bars = w.bars[1:]
	}
	w.lastPrice = bar.Close.InexactFloat64()

	var alert *events.VolumeAlert
	if len(w.volumes) >= d.cfg.MinVolumeSamples {
		alert = d.detectAbnormalVolume(symbol, bar.Volume, w.volumes)
	}
	if len(w.bars) >= d.cfg.SRWindow {
		w.levels = d.calculateSupportResistance(symbol, w.bars, w.lastPrice)
	}
	levels := w.levels
	price := w.lastPrice

	w.mu.Unlock()

	if alert != nil {
		log.Printf("📊 Volume %s on %s: vol=%d avg=%.0f z=%.2f",
			alert.Kind, symbol, alert.CurrentVolume, alert.AvgVolume, alert.ZScore)
		d.bus.Publish(*alert)
		d.evaluateTradeOpportunity(symbol, alert, levels, price)
	}
}

// onQuote computes the order-book imbalance signal. Informational only;
// no trade action is taken on it.
func (d *Detector) onQuote(symbol string, q *models.Quote) {
	askSize := q.AskSize
	if askSize == 0 {
		askSize = 1
	}
	imbalance := float64(q.BidSize) / float64(askSize)
	if imbalance > d.cfg.ImbalanceRatio || imbalance < 1/d.cfg.ImbalanceRatio {
		d.bus.Publish(events.OrderBookImbalance{
			Symbol:    symbol,
			Imbalance: imbalance,
			BidSize:   q.BidSize,
			AskSize:   q.AskSize,
			Timestamp: q.Timestamp,
		})
	}
}

// detectAbnormalVolume flags the newest sample when it sits more than
// VolumeThreshold standard deviations from the mean of the prior samples.
// The stddev divisor is floored at 1 so a flat history still yields a
// finite z-score, and MinVolume filters out illiquid symbols where tiny
// absolute moves produce huge z-scores.
func (d *Detector) detectAbnormalVolume(symbol string, currentVolume int64, volumes []int64) *events.VolumeAlert {
	history := volumes[:len(volumes)-1]
	mean, stdDev := meanStdDev(history)

	zScore := (float64(currentVolume) - mean) / math.Max(stdDev, 1)
	if math.Abs(zScore) <= d.cfg.VolumeThreshold || currentVolume <= d.cfg.MinVolume {
		return nil
	}

	kind := events.AlertSpike
	if zScore < 0 {
		kind = events.AlertDrop
	}
	return &events.VolumeAlert{
		Symbol:        symbol,
		CurrentVolume: currentVolume,
		AvgVolume:     mean,
		ZScore:        zScore,
		Kind:          kind,
		Timestamp:     time.Now(),
	}
}

// meanStdDev returns mean and population standard deviation.
func meanStdDev(samples []int64) (float64, float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range samples {
		sum += float64(v)
	}
	mean := sum / float64(len(samples))

	var sq float64
	for _, v := range samples {
		diff := float64(v) - mean
		sq += diff * diff
	}
	return mean, math.Sqrt(sq / float64(len(samples)))
}
