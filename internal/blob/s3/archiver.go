package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/arenalabs/agentarena/internal/domain"
)

// archiveBatchLimit caps how many settled predictions one archive pass
// moves. A full batch means more remain for the next run.
const archiveBatchLimit = 5000

// leaderboardSnapshotSize is how many ranked rows a snapshot keeps.
const leaderboardSnapshotSize = 100

// Archiver moves settled predictions past the retention cutoff into object
// storage as JSONL, then prunes the archived rows, and writes daily
// leaderboard snapshots. Rows are deleted only after the upload succeeds.
type Archiver struct {
	writer domain.BlobWriter
	preds  domain.PredictionStore
	board  domain.LeaderboardCache
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(
	writer domain.BlobWriter,
	preds domain.PredictionStore,
	board domain.LeaderboardCache,
	audit domain.AuditStore,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		writer: writer,
		preds:  preds,
		board:  board,
		audit:  audit,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveSettled uploads settled predictions older than the cutoff and
// deletes them from the primary store. Returns the number of rows moved.
func (a *Archiver) ArchiveSettled(ctx context.Context, before time.Time) (int64, error) {
	preds, err := a.preds.ListSettledBefore(ctx, before, archiveBatchLimit)
	if err != nil {
		return 0, fmt.Errorf("s3blob: list settled: %w", err)
	}
	if len(preds) == 0 {
		return 0, nil
	}

	// A full batch leaves newer rows behind; prune only up to the last
	// archived row so nothing unarchived is deleted.
	cutoff := before
	if len(preds) == archiveBatchLimit {
		last := preds[len(preds)-1]
		if last.SettledAt != nil {
			cutoff = *last.SettledAt
		}
		a.logger.Warn("archive batch full, remainder deferred to next run",
			slog.Int("batch", len(preds)),
		)
	}

	buf, err := marshalJSONL(preds)
	if err != nil {
		return 0, fmt.Errorf("s3blob: encode predictions: %w", err)
	}

	key := archiveKey("predictions", time.Now().UTC())
	if err := a.writer.PutMultipart(ctx, key, bytes.NewReader(buf), minPartSize); err != nil {
		return 0, fmt.Errorf("s3blob: upload %s: %w", key, err)
	}

	deleted, err := a.preds.DeleteSettledBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("s3blob: prune settled: %w", err)
	}

	a.recordAudit(ctx, map[string]any{
		"what":     "predictions",
		"key":      key,
		"archived": len(preds),
		"deleted":  deleted,
		"cutoff":   cutoff.Format(time.RFC3339),
	})

	return int64(len(preds)), nil
}

// SnapshotLeaderboard uploads the current standings as a dated JSON object
// and returns its key. An empty leaderboard produces no object.
func (a *Archiver) SnapshotLeaderboard(ctx context.Context) (string, error) {
	entries, err := a.board.Top(ctx, leaderboardSnapshotSize)
	if err != nil {
		return "", fmt.Errorf("s3blob: read leaderboard: %w", err)
	}
	if len(entries) == 0 {
		return "", nil
	}

	body, err := json.Marshal(struct {
		TakenAt time.Time                 `json:"taken_at"`
		Entries []domain.LeaderboardEntry `json:"entries"`
	}{
		TakenAt: time.Now().UTC(),
		Entries: entries,
	})
	if err != nil {
		return "", fmt.Errorf("s3blob: encode leaderboard: %w", err)
	}

	key := fmt.Sprintf("archive/leaderboard/%s.json", time.Now().UTC().Format("2006-01-02"))
	if err := a.writer.Put(ctx, key, bytes.NewReader(body), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: upload %s: %w", key, err)
	}

	a.recordAudit(ctx, map[string]any{
		"what":    "leaderboard",
		"key":     key,
		"entries": len(entries),
	})

	return key, nil
}

func (a *Archiver) recordAudit(ctx context.Context, detail map[string]any) {
	err := a.audit.Record(ctx, &domain.AuditEntry{
		Kind:   domain.AuditArchive,
		Actor:  "system",
		Detail: detail,
	})
	if err != nil {
		a.logger.WarnContext(ctx, "audit record failed", slog.String("error", err.Error()))
	}
}

// archiveKey partitions objects by month with a unique timestamped name,
// so repeated runs never overwrite earlier archives.
//
//	archive/predictions/2025-06/20250601T030000Z.jsonl
func archiveKey(kind string, now time.Time) string {
	return fmt.Sprintf("archive/%s/%s/%s.jsonl",
		kind, now.Format("2006-01"), now.Format("20060102T150405Z"))
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
