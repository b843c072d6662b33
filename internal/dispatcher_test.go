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

func newTestDispatcher(t *testing.T, client *stubClient) (*Dispatcher, domain.MappingRepository, *StatsService) {
	t.Helper()
	factory := newTestFactory(t)
	mappings := factory.MappingRepository()
	stats := NewStatsService(factory.StatsRepository())
	d := NewDispatcher(client, mappings, stats, newTestLog(t), time.Second, noopTelemetry(), nil)
	return d, mappings, stats
}

func TestDispatcher_CopyTradeIdempotent(t *testing.T) {
	ctx := context.Background()
	client := &stubClient{
		executeFn: func(accountID string, req *broker.OrderRequest) (*broker.OrderResult, error) {
			return &broker.OrderResult{OrderID: "ord-1", PositionID: "90001", Price: 2350.10}, nil
		},
	}
	d, mappings, stats := newTestDispatcher(t, client)

	event := openedEvent()
	copied, err := d.CopyTrade(ctx, testRoute(), "new-york", &event, 2.50)
	require.NoError(t, err)
	assert.True(t, copied)

	// Notificación duplicada: no-op, nunca una segunda orden
	copied, err = d.CopyTrade(ctx, testRoute(), "new-york", &event, 2.50)
	require.NoError(t, err)
	assert.False(t, copied)
	assert.Equal(t, 1, client.executed())

	mapping, err := mappings.Get(ctx, "src_1", "45817113", "dst_1")
	require.NoError(t, err)
	require.NotNil(t, mapping)
	assert.Equal(t, "90001", mapping.DestPositionID)
	assert.Equal(t, "Copy_45817113_L250", mapping.Comment)
	assert.Equal(t, mapping.Comment, client.order().Comment)

	today, err := stats.Today(ctx, "route_1", event.Time)
	require.NoError(t, err)
	assert.Equal(t, 1, today.TradesCopied)
}

func TestDispatcher_CopyTradeSkipsClosedMapping(t *testing.T) {
	ctx := context.Background()
	client := &stubClient{}
	d, mappings, _ := newTestDispatcher(t, client)

	event := openedEvent()
	closedAt := event.Time.Add(time.Hour)
	require.NoError(t, mappings.Upsert(ctx, &domain.PositionMapping{
		SourceAccountID:  "src_1",
		SourcePositionID: "45817113",
		DestAccountID:    "dst_1",
		DestPositionID:   "90001",
		ClosedAt:         &closedAt,
		CloseReason:      CloseReasonSourceClosed,
	}))

	// Reprocesamiento de un evento viejo sobre un mapping ya cerrado
	copied, err := d.CopyTrade(ctx, testRoute(), "new-york", &event, 2.50)
	require.NoError(t, err)
	assert.False(t, copied)
	assert.Equal(t, 0, client.executed())
}

func TestDispatcher_CopyTradePermanentErrorNoRetry(t *testing.T) {
	ctx := context.Background()
	client := &stubClient{
		executeFn: func(accountID string, req *broker.OrderRequest) (*broker.OrderResult, error) {
			return nil, domain.NewError(domain.ErrTradeDisabled, "trading disabled on account")
		},
	}
	d, mappings, stats := newTestDispatcher(t, client)

	event := openedEvent()
	copied, err := d.CopyTrade(ctx, testRoute(), "new-york", &event, 2.50)
	require.Error(t, err)
	assert.False(t, copied)
	assert.Equal(t, 1, client.executed())
	assert.Equal(t, domain.ErrTradeDisabled, domain.CodeOf(err))

	mapping, err := mappings.Get(ctx, "src_1", "45817113", "dst_1")
	require.NoError(t, err)
	assert.Nil(t, mapping)

	today, err := stats.Today(ctx, "route_1", event.Time)
	require.NoError(t, err)
	assert.Equal(t, 1, today.TradesRejected)
}

func TestDispatcher_CopyTradeRetriesTransientError(t *testing.T) {
	ctx := context.Background()
	attempts := 0
	client := &stubClient{}
	client.executeFn = func(accountID string, req *broker.OrderRequest) (*broker.OrderResult, error) {
		attempts++
		if attempts < 3 {
			return nil, domain.NewError(domain.ErrBrokerBusy, "requotes")
		}
		return &broker.OrderResult{OrderID: "ord-1", PositionID: "90001", Price: 2350.10}, nil
	}
	d, _, _ := newTestDispatcher(t, client)

	event := openedEvent()
	copied, err := d.CopyTrade(ctx, testRoute(), "new-york", &event, 2.50)
	require.NoError(t, err)
	assert.True(t, copied)
	assert.Equal(t, 3, client.executed())
}

func TestDispatcher_CloseCopy(t *testing.T) {
	ctx := context.Background()
	client := &stubClient{
		closeFn: func(accountID, positionID string) (*broker.CloseResult, error) {
			return &broker.CloseResult{Profit: -12.50}, nil
		},
	}
	d, mappings, stats := newTestDispatcher(t, client)

	require.NoError(t, mappings.Upsert(ctx, &domain.PositionMapping{
		SourceAccountID:  "src_1",
		SourcePositionID: "45817113",
		DestAccountID:    "dst_1",
		DestPositionID:   "90001",
		DestSymbol:       "XAUUSD",
		DestVolume:       2.50,
	}))

	event := openedEvent()
	event.Kind = domain.EventClosed
	require.NoError(t, d.CloseCopy(ctx, testRoute(), "new-york", &event))
	assert.Equal(t, 1, client.closed())

	mapping, err := mappings.Get(ctx, "src_1", "45817113", "dst_1")
	require.NoError(t, err)
	require.NotNil(t, mapping)
	assert.False(t, mapping.IsLive())
	assert.Equal(t, CloseReasonSourceClosed, mapping.CloseReason)

	today, err := stats.Today(ctx, "route_1", event.Time)
	require.NoError(t, err)
	assert.Equal(t, 12.50, today.DailyLoss)

	// Segundo closed para la misma posición: el mapping ya está cerrado
	require.NoError(t, d.CloseCopy(ctx, testRoute(), "new-york", &event))
	assert.Equal(t, 1, client.closed())
}

func TestDispatcher_CloseCopyWithoutMapping(t *testing.T) {
	ctx := context.Background()
	client := &stubClient{}
	d, _, _ := newTestDispatcher(t, client)

	event := openedEvent()
	event.Kind = domain.EventClosed
	event.SourcePositionID = "99999"
	require.NoError(t, d.CloseCopy(ctx, testRoute(), "new-york", &event))
	assert.Equal(t, 0, client.closed())
}
