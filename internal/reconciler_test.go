package internal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Monkeyattack/fxtrueup-sub003/broker"
	"github.com/Monkeyattack/fxtrueup-sub003/domain"
)

func newTestReconciler(t *testing.T, client *stubClient) (*Reconciler, domain.MappingRepository, domain.OrphanRepository, *StatsService) {
	t.Helper()
	factory := newTestFactory(t)
	mappings := factory.MappingRepository()
	orphans := factory.OrphanRepository()
	stats := NewStatsService(factory.StatsRepository())
	r := NewReconciler(
		testConfig(),
		client,
		mappings,
		orphans,
		stats,
		newTestLog(t),
		map[string]*SourceState{},
		map[string]*DestWorker{},
		noopTelemetry(),
		nil,
	)
	return r, mappings, orphans, stats
}

func destPosition(id, symbol, comment string) *broker.Position {
	return &broker.Position{
		ID:        id,
		Symbol:    symbol,
		Direction: domain.DirectionBuy,
		Volume:    2.50,
		OpenPrice: 2350.10,
		OpenTime:  time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		Comment:   comment,
	}
}

func TestReconciler_RepairsMappingFromComment(t *testing.T) {
	ctx := context.Background()
	client := &stubClient{
		positionsFn: func(accountID string) ([]*broker.Position, error) {
			switch accountID {
			case "dst_1":
				return []*broker.Position{destPosition("90001", "XAUUSD", "Copy_45817113_L250")}, nil
			case "src_1":
				return []*broker.Position{{
					ID:        "45817113",
					Symbol:    "XAUUSD",
					Direction: domain.DirectionBuy,
					Volume:    0.01,
					OpenPrice: 2350.00,
					OpenTime:  time.Date(2026, 3, 2, 8, 59, 0, 0, time.UTC),
				}}, nil
			}
			return nil, nil
		},
	}
	r, mappings, orphans, _ := newTestReconciler(t, client)

	r.RunOnce(ctx)

	mapping, err := mappings.FindByDestPosition(ctx, "dst_1", "90001")
	require.NoError(t, err)
	require.NotNil(t, mapping)
	assert.Equal(t, "45817113", mapping.SourcePositionID)
	assert.Equal(t, "src_1", mapping.SourceAccountID)
	assert.Equal(t, 0.01, mapping.SourceVolume)
	assert.Equal(t, 2.50, mapping.DestVolume)
	assert.True(t, mapping.IsLive())

	// Un segundo barrido no duplica ni reporta nada
	r.RunOnce(ctx)
	live, err := mappings.GetLiveBySource(ctx, "src_1", "45817113")
	require.NoError(t, err)
	assert.Len(t, live, 1)

	pending, err := orphans.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestReconciler_OrphanWhenSourceGone(t *testing.T) {
	ctx := context.Background()
	client := &stubClient{
		positionsFn: func(accountID string) ([]*broker.Position, error) {
			if accountID == "dst_1" {
				return []*broker.Position{destPosition("90001", "XAUUSD", "Copy_45817113_L250")}, nil
			}
			return nil, nil
		},
	}
	r, mappings, orphans, _ := newTestReconciler(t, client)

	r.RunOnce(ctx)

	mapping, err := mappings.FindByDestPosition(ctx, "dst_1", "90001")
	require.NoError(t, err)
	assert.Nil(t, mapping)

	pending, err := orphans.List(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "90001", pending[0].DestPositionID)
	assert.Equal(t, orphanReasonSourceGone, pending[0].Reason)
}

func TestReconciler_OrphanWithoutComment(t *testing.T) {
	ctx := context.Background()
	client := &stubClient{
		positionsFn: func(accountID string) ([]*broker.Position, error) {
			if accountID == "dst_1" {
				return []*broker.Position{destPosition("90002", "EURUSD", "manual entry")}, nil
			}
			return nil, nil
		},
	}
	r, mappings, orphans, _ := newTestReconciler(t, client)

	r.RunOnce(ctx)

	mapping, err := mappings.FindByDestPosition(ctx, "dst_1", "90002")
	require.NoError(t, err)
	assert.Nil(t, mapping)

	pending, err := orphans.List(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, orphanReasonNoComment, pending[0].Reason)
}

func TestReconciler_ClosesStaleMapping(t *testing.T) {
	ctx := context.Background()
	client := &stubClient{
		positionsFn: func(accountID string) ([]*broker.Position, error) {
			if accountID == "dst_1" {
				// La copia sigue viva en el destino
				return []*broker.Position{destPosition("90001", "XAUUSD", "Copy_777_L250")}, nil
			}
			// La fuente ya no tiene la posición
			return nil, nil
		},
		closeFn: func(accountID, positionID string) (*broker.CloseResult, error) {
			return &broker.CloseResult{Profit: 30.00}, nil
		},
	}
	r, mappings, _, stats := newTestReconciler(t, client)

	require.NoError(t, mappings.Upsert(ctx, &domain.PositionMapping{
		SourceAccountID:  "src_1",
		SourcePositionID: "777",
		DestAccountID:    "dst_1",
		DestPositionID:   "90001",
		DestSymbol:       "XAUUSD",
		DestVolume:       2.50,
		Comment:          "Copy_777_L250",
	}))

	r.RunOnce(ctx)
	assert.Equal(t, 1, client.closed())

	mapping, err := mappings.Get(ctx, "src_1", "777", "dst_1")
	require.NoError(t, err)
	require.NotNil(t, mapping)
	assert.False(t, mapping.IsLive())
	assert.Equal(t, CloseReasonReconcile, mapping.CloseReason)

	today, err := stats.Today(ctx, "route_1", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 30.00, today.DailyProfit)
}

func TestReconciler_MarksExternallyClosedDest(t *testing.T) {
	ctx := context.Background()
	client := &stubClient{}
	r, mappings, _, _ := newTestReconciler(t, client)

	// Mapping vivo pero ni la fuente ni el destino tienen la posición
	require.NoError(t, mappings.Upsert(ctx, &domain.PositionMapping{
		SourceAccountID:  "src_1",
		SourcePositionID: "888",
		DestAccountID:    "dst_1",
		DestPositionID:   "90009",
		DestSymbol:       "EURUSD",
	}))

	r.RunOnce(ctx)
	assert.Equal(t, 0, client.closed())

	mapping, err := mappings.Get(ctx, "src_1", "888", "dst_1")
	require.NoError(t, err)
	require.NotNil(t, mapping)
	assert.False(t, mapping.IsLive())
	assert.Equal(t, "dest_closed_externally", mapping.CloseReason)
}
