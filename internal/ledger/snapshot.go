package ledger

import (
	"time"

	"paper_trading/internal/models"
)

const snapshotVersion = "1.0"

// Snapshot captures every portfolio and the order-ID counter for the state
// file. Safe to call concurrently with trading; each portfolio is copied
// under its own lock.
func (l *Ledger) Snapshot() models.LedgerSnapshot {
	l.mu.RLock()
	users := make([]string, 0, len(l.accounts))
	for u := range l.accounts {
		users = append(users, u)
	}
	l.mu.RUnlock()

	snap := models.LedgerSnapshot{
		Version: snapshotVersion,
		SavedAt: time.Now().Format(time.RFC3339),
	}
	for _, userID := range users {
		snap.Portfolios = append(snap.Portfolios, l.GetPortfolio(userID))
	}

	l.idMu.Lock()
	snap.NextOrderID = l.nextID
	l.idMu.Unlock()
	return snap
}

// Restore replaces the ledger contents with a previously saved snapshot.
// Intended for startup, before any trading begins.
func (l *Ledger) Restore(snap models.LedgerSnapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.accounts = make(map[string]*account, len(snap.Portfolios))
	for _, p := range snap.Portfolios {
		if p.Positions == nil {
			p.Positions = make(map[string]*models.Position)
		}
		l.accounts[p.UserID] = &account{p: p}
	}

	l.idMu.Lock()
	if snap.NextOrderID > 0 {
		l.nextID = snap.NextOrderID
	}
	l.idMu.Unlock()
}
