package budget

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Ledger persists cumulative USD spend per calendar month, one flat JSON
// file per month. It feeds the monthly ceiling check: the orchestrator
// reads month-to-date spend before a run and records the run's cost
// after it.
type Ledger struct {
	dir string
}

type monthRecord struct {
	CostUSD float64 `json:"costUsd"`
}

// OpenLedger opens the spend ledger under dir. An empty dir selects the
// platform cache directory.
func OpenLedger(dir string) (*Ledger, error) {
	if dir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("cannot determine cache directory: %w", err)
		}
		dir = filepath.Join(base, "armada")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}
	return &Ledger{dir: dir}, nil
}

// MonthToDate returns the recorded spend for now's calendar month. A
// missing or unreadable record reads as zero spend.
func (l *Ledger) MonthToDate(now time.Time) float64 {
	data, err := os.ReadFile(l.path(now))
	if err != nil {
		return 0
	}
	var rec monthRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return 0
	}
	return rec.CostUSD
}

// Record adds usd to now's calendar month.
func (l *Ledger) Record(now time.Time, usd float64) error {
	if usd <= 0 {
		return nil
	}
	rec := monthRecord{CostUSD: l.MonthToDate(now) + usd}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling spend record: %w", err)
	}
	if err := os.WriteFile(l.path(now), data, 0o644); err != nil {
		return fmt.Errorf("writing spend record: %w", err)
	}
	return nil
}

func (l *Ledger) path(now time.Time) string {
	return filepath.Join(l.dir, "spend-"+now.Format("2006-01")+".json")
}
