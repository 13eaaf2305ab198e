package storage

import (
	"encoding/json"
	"io"
	"log"
	"os"

	"paper_trading/internal/models"
)

// StateFile is where the ledger snapshot lives on disk.
const StateFile = "ledger_state.json"

// LoadSnapshot reads the ledger snapshot from disk. A missing file is not
// an error: a fresh empty snapshot is written and returned so the next run
// finds one.
func LoadSnapshot() (models.LedgerSnapshot, error) {
	var s models.LedgerSnapshot

	if _, err := os.Stat(StateFile); os.IsNotExist(err) {
		log.Println("State file missing, generating template...")
		s = models.LedgerSnapshot{Version: "1.0"}
		SaveSnapshot(s)
		return s, nil
	}

	f, err := os.Open(StateFile)
	if err != nil {
		return s, err
	}
	defer f.Close()

	b, err := io.ReadAll(f)
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(b, &s); err != nil {
		return s, err
	}
	return s, nil
}

// SaveSnapshot writes the snapshot using an atomic write pattern:
// write to a temp file in the same directory, sync, then rename.
func SaveSnapshot(s models.LedgerSnapshot) {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		log.Printf("ERROR: Failed to marshal snapshot: %v", err)
		return
	}

	tmpFile := StateFile + ".tmp"
	f, err := os.Create(tmpFile)
	if err != nil {
		log.Printf("ERROR: Failed to create temp snapshot file: %v", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(b); err != nil {
		log.Printf("ERROR: Failed to write temp snapshot file: %v", err)
		return
	}
	if err := f.Sync(); err != nil {
		log.Printf("ERROR: Failed to sync temp snapshot file: %v", err)
		return
	}
	f.Close()

	if err := os.Rename(tmpFile, StateFile); err != nil {
		log.Printf("ERROR: Failed to replace snapshot file (atomic rename): %v", err)
	}
}
