// Package tradelog keeps the local append-only record of executed
// trades as one JSON object per line. Every append prunes records older
// than the retention window, handing them to the archiver first when
// one is configured.
package tradelog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mwhitfield/tradepilot/internal/domain"
)

// Log is a file-backed domain.TradeLog. A single mutex serializes all
// access; the pipeline is sequential so contention is not a concern.
type Log struct {
	path      string
	retention int
	archiver  domain.TradeArchiver
	logger    *slog.Logger
	now       func() time.Time

	mu sync.Mutex
}

var _ domain.TradeLog = (*Log)(nil)

// New creates a Log at path keeping retentionDays of records. archiver
// may be nil; pruned records are then dropped without upload.
func New(path string, retentionDays int, archiver domain.TradeArchiver, logger *slog.Logger) *Log {
	return &Log{
		path:      path,
		retention: retentionDays,
		archiver:  archiver,
		logger:    logger.With(slog.String("component", "tradelog")),
		now:       time.Now,
	}
}

// Append adds rec and rewrites the log without records older than the
// retention window. Archival of pruned records is best effort: an
// upload failure is logged, never fatal to the trade being recorded.
func (l *Log) Append(ctx context.Context, rec domain.TradeRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.readAll()
	if err != nil {
		return err
	}
	records = append(records, rec)

	cutoff := l.now().AddDate(0, 0, -l.retention).Format(domain.TradeDateLayout)
	kept := records[:0:0]
	var pruned []domain.TradeRecord
	for _, r := range records {
		if r.Date < cutoff {
			pruned = append(pruned, r)
		} else {
			kept = append(kept, r)
		}
	}

	if len(pruned) > 0 {
		l.archive(ctx, pruned)
	}

	return l.writeAll(kept)
}

// Today returns all records dated today across accounts.
func (l *Log) Today(ctx context.Context) ([]domain.TradeRecord, error) {
	return l.todayFiltered(func(domain.TradeRecord) bool { return true })
}

// TodayByAccount returns today's records for one account.
func (l *Log) TodayByAccount(ctx context.Context, accountID string) ([]domain.TradeRecord, error) {
	return l.todayFiltered(func(r domain.TradeRecord) bool { return r.AccountID == accountID })
}

func (l *Log) todayFiltered(keep func(domain.TradeRecord) bool) ([]domain.TradeRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.readAll()
	if err != nil {
		return nil, err
	}

	today := l.now().Format(domain.TradeDateLayout)
	out := make([]domain.TradeRecord, 0, len(records))
	for _, r := range records {
		if r.Date == today && keep(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

// archive groups pruned records by calendar month and uploads each
// group. Failures only log; pruning proceeds regardless.
func (l *Log) archive(ctx context.Context, pruned []domain.TradeRecord) {
	if l.archiver == nil {
		l.logger.Debug("dropping pruned trade records, no archiver configured",
			slog.Int("count", len(pruned)))
		return
	}

	byMonth := make(map[string][]domain.TradeRecord)
	for _, r := range pruned {
		byMonth[r.Date[:7]] = append(byMonth[r.Date[:7]], r)
	}
	for monthKey, recs := range byMonth {
		month, err := time.Parse("2006-01", monthKey)
		if err != nil {
			month = l.now()
		}
		if err := l.archiver.ArchiveTrades(ctx, recs, month); err != nil {
			l.logger.Error("trade archive upload failed",
				slog.String("month", monthKey),
				slog.Int("count", len(recs)),
				slog.String("error", err.Error()))
			continue
		}
		l.logger.Info("archived pruned trade records",
			slog.String("month", monthKey),
			slog.Int("count", len(recs)))
	}
}

// readAll loads every record in the log file. A missing file is an
// empty log; a corrupt line is skipped with a warning rather than
// wedging trading.
func (l *Log) readAll() ([]domain.TradeRecord, error) {
	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tradelog: open %s: %w", l.path, err)
	}
	defer f.Close()

	var records []domain.TradeRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var rec domain.TradeRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			l.logger.Warn("skipping corrupt trade log line",
				slog.Int("line", line),
				slog.String("error", err.Error()))
			continue
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("tradelog: read %s: %w", l.path, err)
	}
	return records, nil
}

// writeAll rewrites the log atomically via a temp file in the same
// directory.
func (l *Log) writeAll(records []domain.TradeRecord) error {
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("tradelog: create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(l.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("tradelog: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			tmp.Close()
			return fmt.Errorf("tradelog: encode record %s: %w", r.ID, err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("tradelog: flush: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tradelog: close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), l.path); err != nil {
		return fmt.Errorf("tradelog: replace %s: %w", l.path, err)
	}
	return nil
}
