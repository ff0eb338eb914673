package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"percolator-sim/internal/domain"
	"percolator-sim/internal/storage"
	pgstore "percolator-sim/internal/storage/postgres"
)

func TestScenarioStoreLifecycle(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := pgstore.NewScenarioStore(pool)

	_, err := store.GetActive(ctx)
	require.ErrorIs(t, err, storage.ErrNotFound)

	now := time.Now().UTC().Truncate(time.Millisecond)
	sc := &domain.Scenario{
		ID:          "sc-1",
		Type:        domain.ScenarioFlashCrash,
		ActivatedAt: now,
		ExpiresAt:   now.Add(2 * time.Minute),
		Status:      domain.ScenarioStatusActive,
	}
	require.NoError(t, store.Insert(ctx, sc))
	require.ErrorIs(t, store.Insert(ctx, sc), storage.ErrDuplicateKey)

	got, err := store.GetActive(ctx)
	require.NoError(t, err)
	require.Equal(t, "sc-1", got.ID)
	require.Equal(t, domain.ScenarioFlashCrash, got.Type)

	// A newer active scenario wins.
	later := &domain.Scenario{
		ID:          "sc-2",
		Type:        domain.ScenarioHighVol,
		ActivatedAt: now.Add(time.Second),
		ExpiresAt:   now.Add(3 * time.Minute),
		Status:      domain.ScenarioStatusActive,
	}
	require.NoError(t, store.Insert(ctx, later))
	got, err = store.GetActive(ctx)
	require.NoError(t, err)
	require.Equal(t, "sc-2", got.ID)

	require.NoError(t, store.MarkExpired(ctx, "sc-2"))
	got, err = store.GetActive(ctx)
	require.NoError(t, err)
	require.Equal(t, "sc-1", got.ID)

	require.ErrorIs(t, store.MarkExpired(ctx, "missing"), storage.ErrNotFound)
}

func TestTradeLogStoreInsertAndQuery(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := pgstore.NewTradeLogStore(pool)

	base := time.Now().UnixMilli()
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Insert(ctx, &domain.TradeLogEntry{
			TxSignature: "sig-" + string(rune('a'+i)),
			Identity:    "agent-1",
			DisplayName: "Agent One",
			Market:      "SOL-PERP",
			Action:      domain.TradeActionOpen,
			Side:        domain.TradeSideLong,
			SizeBase:    1_000_000,
			PriceFixed:  100_000_000,
			TimestampMs: base + int64(i),
		}))
	}
	require.NoError(t, store.Insert(ctx, &domain.TradeLogEntry{
		TxSignature: "sig-other",
		Identity:    "agent-2",
		Market:      "SOL-PERP",
		Action:      domain.TradeActionOpen,
		Side:        domain.TradeSideShort,
		SizeBase:    -1_000_000,
		PriceFixed:  100_000_000,
		TimestampMs: base,
	}))

	entries, err := store.GetByIdentity(ctx, "agent-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	// Newest first.
	require.Equal(t, base+2, entries[0].TimestampMs)
	require.Equal(t, base, entries[2].TimestampMs)

	entries, err = store.GetByIdentity(ctx, "agent-1", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestLeaderboardStoreUpsertAndTop(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := pgstore.NewLeaderboardStore(pool)
	week := domain.WeekStartUTC(time.Now())

	_, err := store.Get(ctx, "agent-1", week)
	require.ErrorIs(t, err, storage.ErrNotFound)

	row := &domain.LeaderboardRow{
		Identity:      "agent-1",
		DisplayName:   "Agent One",
		WeekStart:     week,
		TradeCount:    1,
		TotalPnl:      5_000_000,
		TotalNotional: 100_000_000,
		BestTradePnl:  5_000_000,
		WorstTradePnl: 5_000_000,
		WinCount:      1,
	}
	require.NoError(t, store.Upsert(ctx, row))

	// Upsert replaces the existing row for the same key.
	row.TradeCount = 2
	row.TotalPnl = 3_000_000
	row.WorstTradePnl = -2_000_000
	require.NoError(t, store.Upsert(ctx, row))

	got, err := store.Get(ctx, "agent-1", week)
	require.NoError(t, err)
	require.EqualValues(t, 2, got.TradeCount)
	require.EqualValues(t, 3_000_000, got.TotalPnl)
	require.EqualValues(t, -2_000_000, got.WorstTradePnl)

	require.NoError(t, store.Upsert(ctx, &domain.LeaderboardRow{
		Identity: "agent-2", DisplayName: "Agent Two", WeekStart: week,
		TradeCount: 5, TotalPnl: 9_000_000,
	}))
	require.NoError(t, store.Upsert(ctx, &domain.LeaderboardRow{
		Identity: "agent-3", DisplayName: "Agent Three", WeekStart: week,
		TradeCount: 5, TotalPnl: -9_000_000,
	}))

	top, err := store.Top(ctx, week, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	require.Equal(t, "agent-2", top[0].Identity)
	require.Equal(t, "agent-1", top[1].Identity)
}
