package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paper_trading/internal/config"
	"paper_trading/internal/detector"
	"paper_trading/internal/events"
	"paper_trading/internal/ledger"
	"paper_trading/internal/logger"
	"paper_trading/internal/market"
	"paper_trading/internal/market/alpaca"
	"paper_trading/internal/notify"
	"paper_trading/internal/storage"
)

const LogFile = "paper_trader.log"
const VersionFile = "version.latest"

// DetectorUser is the ledger account the detector trades through in paper mode.
const DetectorUser = "detector"

func main() {
	cfg := config.Load()
	cfg.Version = readVersion()

	logger.Setup(LogFile, cfg.MaxLogSizeMB, cfg.MaxLogBackups)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Dependencies
	provider := alpaca.NewProvider()
	bus := events.NewBus()
	notify.Attach(bus)

	book := ledger.New(provider, bus)
	if snap, err := storage.LoadSnapshot(); err != nil {
		log.Printf("Warning: Could not load ledger snapshot: %v", err)
	} else if len(snap.Portfolios) > 0 {
		book.Restore(snap)
		log.Printf("Restored %d portfolio(s) from %s", len(snap.Portfolios), storage.StateFile)
	}

	// The detector trades against the virtual ledger in paper mode, or
	// through the brokerage in live mode. Live orders are gated on the
	// market clock; the virtual ledger trades around the clock.
	var trader market.Trader = ledger.NewPaperTrader(book, DetectorUser)
	if cfg.TradeMode == config.ModeLive {
		trader = market.NewClockGate(provider, provider)
		log.Println("⚡ LIVE trade mode: detector orders route to the brokerage (market hours only)")
	}

	det := detector.New(detector.Config{
		LookbackPeriod:   cfg.LookbackPeriod,
		MinVolumeSamples: cfg.MinVolumeSamples,
		VolumeThreshold:  cfg.VolumeThreshold,
		MinVolume:        cfg.MinVolume,
		SRWindow:         cfg.SRWindow,
		MaxPositionSize:  cfg.MaxPositionSize,
		BuyingPowerFrac:  cfg.BuyingPowerFrac,
		ImbalanceRatio:   cfg.ImbalanceRatio,
		ProximityPct:     cfg.ProximityPct,
		DedupePct:        cfg.DedupePct,
	}, trader, bus)

	for _, symbol := range cfg.Watchlist {
		det.AddSymbol(symbol)
	}
	det.Warmup(provider)

	streamer := alpaca.NewStreamer()
	if err := streamer.Subscribe(cfg.Watchlist, det.Ingest); err != nil {
		log.Fatalf("CRITICAL: Stream subscribe failed: %v", err)
	}

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		log.Println("⚠️ Paper Trader shutting down: system signal received.")
		cancel()
	}()

	log.Printf("Paper Trader %s initialized (%s mode)", cfg.Version, cfg.TradeMode)
	log.Printf("Watchlist: %v | Sweep interval: %ds", cfg.Watchlist, cfg.SweepIntervalSec)

	// Main loop: the pending-order sweep. Per-order state transitions are
	// guarded, so an overlapping or repeated sweep is harmless.
	ticker := time.NewTicker(time.Duration(cfg.SweepIntervalSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("🛑 Main loop stopping...")
			streamer.Close()
			storage.SaveSnapshot(book.Snapshot())
			log.Println("Ledger snapshot saved.")
			return
		case <-ticker.C:
			book.CheckPendingOrders()
			storage.SaveSnapshot(book.Snapshot())
		}
	}
}

func readVersion() string {
	version, err := os.ReadFile(VersionFile)
	if err != nil {
		return "v0.0.0-dev"
	}
	return string(version)
}
