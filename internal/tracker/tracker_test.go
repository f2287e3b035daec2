// Copyright 2026 The tierflow Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tierflow/tierflow/internal/util"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	sb, err := util.NewStateBoxAt(t.TempDir())
	require.NoError(t, err)

	store, err := NewStore("outcomes.db", 90)
	require.NoError(t, err)
	store.SetStateBox(sb)
	require.NoError(t, store.Initialize(context.Background()))

	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_RecordAndAggregate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	outcomes := []*OutcomeRecord{
		{Tier: "sonnet", Category: "chat", Success: true, QualityScore: 0.9, LatencyMs: 1200, CostUSD: 0.01},
		{Tier: "sonnet", Category: "chat", Success: true, QualityScore: 0.7, LatencyMs: 800, CostUSD: 0.008},
		{Tier: "sonnet", Category: "chat", Success: false, QualityScore: 0, LatencyMs: 4000, ErrorMessage: "timeout"},
		{Tier: "sonnet", Category: "security", Success: true, QualityScore: 1.0, LatencyMs: 2000, CostUSD: 0.02},
		{Tier: "haiku", Category: "chat", Success: true, QualityScore: 0.5, LatencyMs: 300, CostUSD: 0.001},
	}
	for _, rec := range outcomes {
		require.NoError(t, store.Record(ctx, rec))
		assert.NotZero(t, rec.ID)
	}

	stats, err := store.GetPerformanceStats(ctx, "sonnet")
	require.NoError(t, err)
	require.Len(t, stats.Categories, 2)

	chat := stats.Categories[0]
	assert.Equal(t, "chat", chat.Category)
	assert.Equal(t, 3, chat.TotalCalls)
	assert.InDelta(t, 1.0/3.0, chat.ErrorRate, 1e-9)
	assert.InDelta(t, (0.9+0.7+0)/3.0, chat.AvgQuality, 1e-9)
	assert.InDelta(t, 2000.0, chat.AvgLatencyMs, 1e-9)

	security := stats.Categories[1]
	assert.Equal(t, "security", security.Category)
	assert.Equal(t, 1, security.TotalCalls)
	assert.Equal(t, 0.0, security.ErrorRate)
}

func TestStore_NoHistoryIsEmptyNotError(t *testing.T) {
	store := newTestStore(t)

	stats, err := store.GetPerformanceStats(context.Background(), "unknown-tier")
	require.NoError(t, err)
	assert.Equal(t, "unknown-tier", stats.Tier)
	assert.Empty(t, stats.Categories)
}

func TestStore_GetRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Record(ctx, &OutcomeRecord{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Tier:      "haiku",
			Category:  "chat",
			Success:   true,
			LatencyMs: int64(100 + i),
		}))
	}

	records, err := store.GetRecent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, records, 3)
	// Most recent first.
	assert.Equal(t, int64(104), records[0].LatencyMs)
}

func TestStore_RecordValidation(t *testing.T) {
	store := newTestStore(t)

	err := store.Record(context.Background(), nil)
	assert.Error(t, err)

	closed := &Store{}
	err = closed.Record(context.Background(), &OutcomeRecord{Tier: "x", Category: "y"})
	assert.Error(t, err)
}

func TestStore_GetPerformanceStats_QueryShape(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := newStoreWithDB(db)

	rows := sqlmock.NewRows([]string{"category", "avg_quality", "error_rate", "avg_latency_ms", "total_calls"}).
		AddRow("chat", 0.8, 0.25, 1500.0, 4).
		AddRow("security", 1.0, 0.0, 2000.0, 1)

	mock.ExpectQuery("SELECT").WithArgs("sonnet").WillReturnRows(rows)

	stats, err := store.GetPerformanceStats(context.Background(), "sonnet")
	require.NoError(t, err)
	require.Len(t, stats.Categories, 2)
	assert.Equal(t, 0.25, stats.Categories[0].ErrorRate)
	assert.Equal(t, 1, stats.Categories[1].TotalCalls)

	assert.NoError(t, mock.ExpectationsWereMet())
}
