package internal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsService_Counters(t *testing.T) {
	ctx := context.Background()
	svc := NewStatsService(newTestFactory(t).StatsRepository())

	day := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, svc.RecordCopied(ctx, "route_1", day))
	require.NoError(t, svc.RecordCopied(ctx, "route_1", day.Add(10*time.Minute)))
	require.NoError(t, svc.RecordRejected(ctx, "route_1", day.Add(20*time.Minute)))
	require.NoError(t, svc.RecordProfit(ctx, "route_1", 10.00, day.Add(30*time.Minute)))
	require.NoError(t, svc.RecordProfit(ctx, "route_1", -4.00, day.Add(40*time.Minute)))

	stats, err := svc.Today(ctx, "route_1", day)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TradesCopied)
	assert.Equal(t, 1, stats.TradesRejected)
	assert.Equal(t, 10.00, stats.DailyProfit)
	assert.Equal(t, 4.00, stats.DailyLoss)
	assert.True(t, stats.LastTradeTime.Equal(day.Add(10*time.Minute)))
}

func TestStatsService_DailyPartition(t *testing.T) {
	ctx := context.Background()
	svc := NewStatsService(newTestFactory(t).StatsRepository())

	day := time.Date(2026, 3, 2, 23, 50, 0, 0, time.UTC)
	require.NoError(t, svc.RecordCopied(ctx, "route_1", day))

	// Medianoche UTC: día nuevo, contadores implícitamente en cero
	next, err := svc.Today(ctx, "route_1", day.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "2026-03-03", next.Date)
	assert.Equal(t, 0, next.TradesCopied)
	assert.True(t, next.LastTradeTime.IsZero())
}

func TestStatsService_TodayWithoutWrites(t *testing.T) {
	ctx := context.Background()
	svc := NewStatsService(newTestFactory(t).StatsRepository())

	stats, err := svc.Today(ctx, "route_1", time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, "route_1", stats.RouteID)
	assert.Equal(t, "2026-03-02", stats.Date)
	assert.Equal(t, 0, stats.TradesCopied)
}
