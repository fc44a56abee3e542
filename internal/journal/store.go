// Package journal persists trading records and their snapshots so a matching
// engine can resume exactly where it stopped.
package journal

import (
	"context"
	"strings"

	"github.com/coachpo/lotmatch/errs"
	"github.com/coachpo/lotmatch/ledger"
)

// Store is the durable home of live trading records. Saves are guarded by the
// record's next sequence number: a save carrying an older sequence than the
// stored row is a stale writer and must be rejected.
type Store interface {
	SaveRecord(ctx context.Context, record *ledger.LiveTradingRecord) error
	LoadRecord(ctx context.Context, name string) (*ledger.LiveTradingRecord, error)
	ListRecords(ctx context.Context) ([]string, error)
	DeleteRecord(ctx context.Context, name string) error
}

func validateName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", errs.New("journal", errs.CodeStorage,
			errs.WithMessage("record name required"))
	}
	return trimmed, nil
}
