package s3blob

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arenalabs/agentarena/internal/domain"
)

type fakeWriter struct {
	keys   []string
	bodies [][]byte
}

func (f *fakeWriter) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	return f.save(path, data)
}

func (f *fakeWriter) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	return f.save(path, data)
}

func (f *fakeWriter) save(path string, data io.Reader) error {
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.keys = append(f.keys, path)
	f.bodies = append(f.bodies, body)
	return nil
}

type fakePredStore struct {
	domain.PredictionStore
	settled []*domain.Prediction
	deleted *time.Time
}

func (f *fakePredStore) ListSettledBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Prediction, error) {
	if len(f.settled) > limit {
		return f.settled[:limit], nil
	}
	return f.settled, nil
}

func (f *fakePredStore) DeleteSettledBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.deleted = &cutoff
	return int64(len(f.settled)), nil
}

type fakeBoard struct {
	domain.LeaderboardCache
	entries []domain.LeaderboardEntry
}

func (f *fakeBoard) Top(ctx context.Context, n int) ([]domain.LeaderboardEntry, error) {
	return f.entries, nil
}

type fakeAudit struct {
	domain.AuditStore
	entries []*domain.AuditEntry
}

func (f *fakeAudit) Record(ctx context.Context, entry *domain.AuditEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func settledPrediction(id string, at time.Time) *domain.Prediction {
	return &domain.Prediction{
		ID:        id,
		Status:    domain.PredictionWon,
		SettledAt: &at,
	}
}

func TestArchiveSettledUploadsThenPrunes(t *testing.T) {
	cutoff := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	preds := &fakePredStore{settled: []*domain.Prediction{
		settledPrediction("p1", cutoff.Add(-48*time.Hour)),
		settledPrediction("p2", cutoff.Add(-24*time.Hour)),
	}}
	writer := &fakeWriter{}
	audit := &fakeAudit{}

	a := NewArchiver(writer, preds, &fakeBoard{}, audit, discard())
	n, err := a.ArchiveSettled(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.Len(t, writer.keys, 1)
	assert.True(t, strings.HasPrefix(writer.keys[0], "archive/predictions/"))
	assert.Equal(t, 2, bytes.Count(writer.bodies[0], []byte("\n")), "one JSON line per prediction")

	require.NotNil(t, preds.deleted)
	assert.True(t, preds.deleted.Equal(cutoff), "partial batches prune up to the cutoff")

	require.Len(t, audit.entries, 1)
	assert.Equal(t, domain.AuditArchive, audit.entries[0].Kind)
}

func TestArchiveSettledEmptyIsNoop(t *testing.T) {
	writer := &fakeWriter{}
	preds := &fakePredStore{}

	a := NewArchiver(writer, preds, &fakeBoard{}, &fakeAudit{}, discard())
	n, err := a.ArchiveSettled(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, writer.keys)
	assert.Nil(t, preds.deleted)
}

func TestSnapshotLeaderboard(t *testing.T) {
	writer := &fakeWriter{}
	board := &fakeBoard{entries: []domain.LeaderboardEntry{
		{Rank: 1, AgentID: "a1", Name: "Momentum Max"},
	}}

	a := NewArchiver(writer, &fakePredStore{}, board, &fakeAudit{}, discard())
	key, err := a.SnapshotLeaderboard(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "archive/leaderboard/"))
	require.Len(t, writer.bodies, 1)
	assert.Contains(t, string(writer.bodies[0]), "Momentum Max")
}

func TestSnapshotLeaderboardEmptySkipsUpload(t *testing.T) {
	writer := &fakeWriter{}

	a := NewArchiver(writer, &fakePredStore{}, &fakeBoard{}, &fakeAudit{}, discard())
	key, err := a.SnapshotLeaderboard(context.Background())
	require.NoError(t, err)
	assert.Empty(t, key)
	assert.Empty(t, writer.keys)
}

func TestArchiveKeyPartitionsByMonth(t *testing.T) {
	now := time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)
	assert.Equal(t, "archive/predictions/2025-06/20250601T030000Z.jsonl", archiveKey("predictions", now))
}
