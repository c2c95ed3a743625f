package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/michaelpento.lv/flasharb/types"
)

var (
	reportPrefix = []byte("arb/")
	idPrefix     = []byte("arb-id/")
	seqKey       = []byte("arb-seq")
)

// History keeps committed arbitrage reports, ordered by execution time and,
// within one block time, by the order they were recorded
type History struct {
	db     Database
	logger *zap.Logger

	mu     sync.Mutex
	seq    uint64
	loaded bool
}

// NewHistory stores reports in db
func NewHistory(db Database, logger *zap.Logger) *History {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &History{db: db, logger: logger}
}

func reportKey(r *types.ArbitrageReport, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d/%020d/%s", reportPrefix, r.ExecutedAt.UnixNano(), seq, r.ID))
}

// nextSeq returns the next record sequence. The counter is persisted so it
// keeps increasing across reopens of the same database. Callers hold h.mu.
func (h *History) nextSeq() (uint64, error) {
	if !h.loaded {
		raw, err := h.db.Get(seqKey)
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			return 0, fmt.Errorf("failed to load record sequence: %w", err)
		case len(raw) != 8:
			return 0, fmt.Errorf("corrupt record sequence of %d bytes", len(raw))
		default:
			h.seq = binary.BigEndian.Uint64(raw)
		}
		h.loaded = true
	}

	next := h.seq + 1
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], next)
	if err := h.db.Put(seqKey, buf[:]); err != nil {
		return 0, fmt.Errorf("failed to store record sequence: %w", err)
	}
	h.seq = next
	return next, nil
}

// Record stores a report. Recording the same id twice is rejected.
func (h *History) Record(ctx context.Context, report *types.ArbitrageReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if report == nil || report.ID == "" {
		return fmt.Errorf("report id is required")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	idKey := append(append([]byte(nil), idPrefix...), report.ID...)
	if _, err := h.db.Get(idKey); err == nil {
		return fmt.Errorf("report %s already recorded", report.ID)
	} else if !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to check report %s: %w", report.ID, err)
	}

	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	seq, err := h.nextSeq()
	if err != nil {
		return err
	}
	key := reportKey(report, seq)
	if err := h.db.Put(key, data); err != nil {
		return fmt.Errorf("failed to store report: %w", err)
	}
	if err := h.db.Put(idKey, key); err != nil {
		return fmt.Errorf("failed to index report: %w", err)
	}

	h.logger.Debug("Recorded arbitrage report", zap.String("id", report.ID), zap.ByteString("key", key))
	return nil
}

// Get returns the report with the given id
func (h *History) Get(id string) (*types.ArbitrageReport, error) {
	key, err := h.db.Get(append(append([]byte(nil), idPrefix...), id...))
	if err != nil {
		return nil, fmt.Errorf("failed to look up report %s: %w", id, err)
	}
	data, err := h.db.Get(key)
	if err != nil {
		return nil, fmt.Errorf("failed to load report %s: %w", id, err)
	}
	var report types.ArbitrageReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", id, err)
	}
	return &report, nil
}

// List returns up to limit reports, oldest first. A limit of zero returns all.
func (h *History) List(ctx context.Context, limit int) ([]*types.ArbitrageReport, error) {
	var (
		reports []*types.ArbitrageReport
		decErr  error
	)
	err := h.db.Iterate(reportPrefix, func(key, value []byte) bool {
		if ctx.Err() != nil {
			return false
		}
		var report types.ArbitrageReport
		if err := json.Unmarshal(value, &report); err != nil {
			decErr = fmt.Errorf("failed to decode report at %s: %w", key, err)
			return false
		}
		reports = append(reports, &report)
		return limit <= 0 || len(reports) < limit
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate reports: %w", err)
	}
	if decErr != nil {
		return nil, decErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return reports, nil
}
