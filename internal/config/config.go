package config

import (
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Trade modes for the detector's auto-trade sink.
const (
	ModePaper = "paper"
	ModeLive  = "live"
)

// Config holds all runtime settings for the paper trader.
type Config struct {
	Version string

	// TradeMode selects where detector auto-trades are routed:
	// "paper" targets the virtual ledger, "live" the real brokerage.
	TradeMode string

	// Watchlist is the initial set of streamed symbols.
	Watchlist []string

	// Ledger
	SweepIntervalSec int // pending limit-order sweep cadence

	// Detector
	LookbackPeriod    int     // rolling window capacity (volume samples / bars)
	VolumeThreshold   float64 // |z-score| above which volume is abnormal
	MinVolume         int64   // absolute floor to filter illiquid symbols
	SRWindow          int     // bars used for support/resistance recompute
	MaxPositionSize   float64 // cap on auto-trade position value, in dollars
	BuyingPowerFrac   float64 // fraction of buying power per auto-trade
	ImbalanceRatio    float64 // quote imbalance threshold (and its inverse)
	ProximityPct      float64 // price-to-level distance that counts as "near"
	DedupePct         float64 // S/R levels within this fraction are merged
	MinVolumeSamples  int     // samples required before detection runs

	// Logging
	MaxLogSizeMB  int64
	MaxLogBackups int
}

// Load initializes the configuration. It reads a .env file if present and
// validates that the brokerage credentials exist (market data needs them
// even in paper mode).
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: No .env file found, using system environment variables")
	}

	required := []string{"APCA_API_KEY_ID", "APCA_API_SECRET_KEY"}
	var missing []string
	for _, key := range required {
		if os.Getenv(key) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		log.Fatalf("CRITICAL: Missing required environment variables: %v", missing)
	}

	cfg := &Config{
		TradeMode:        getEnvAsString("TRADE_MODE", ModePaper),
		Watchlist:        splitList(getEnvAsString("WATCHLIST", "AAPL,MSFT,TSLA")),
		SweepIntervalSec: getEnvAsInt("SWEEP_INTERVAL_SEC", 10),
		LookbackPeriod:   getEnvAsInt("LOOKBACK_PERIOD", 20),
		VolumeThreshold:  getEnvAsFloat64("VOLUME_THRESHOLD", 2.5),
		MinVolume:        int64(getEnvAsInt("MIN_VOLUME", 100000)),
		SRWindow:         getEnvAsInt("SR_WINDOW", 20),
		MaxPositionSize:  getEnvAsFloat64("MAX_POSITION_SIZE", 10000),
		BuyingPowerFrac:  getEnvAsFloat64("BUYING_POWER_FRAC", 0.10),
		ImbalanceRatio:   getEnvAsFloat64("IMBALANCE_RATIO", 3.0),
		ProximityPct:     getEnvAsFloat64("PROXIMITY_PCT", 0.01),
		DedupePct:        getEnvAsFloat64("DEDUPE_PCT", 0.005),
		MinVolumeSamples: getEnvAsInt("MIN_VOLUME_SAMPLES", 10),
		MaxLogSizeMB:     int64(getEnvAsInt("MAX_LOG_SIZE_MB", 10)),
		MaxLogBackups:    getEnvAsInt("MAX_LOG_BACKUPS", 3),
	}

	if cfg.TradeMode != ModePaper && cfg.TradeMode != ModeLive {
		log.Printf("Warning: Unknown TRADE_MODE %q, falling back to paper", cfg.TradeMode)
		cfg.TradeMode = ModePaper
	}

	return cfg
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, strings.ToUpper(part))
		}
	}
	return out
}
