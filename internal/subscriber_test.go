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

func newTestSubscriber(client *stubClient) (*Subscriber, *SourceState, chan domain.TradeEvent) {
	state := NewSourceState("src_1")
	out := make(chan domain.TradeEvent, 16)
	s := NewSubscriber("src_1", "new-york", client, state, out, time.Second, noopTelemetry(), nil)
	return s, state, out
}

func sourcePosition(id string, volume float64) *broker.Position {
	return &broker.Position{
		ID:        id,
		Symbol:    "XAUUSD",
		Direction: domain.DirectionBuy,
		Volume:    volume,
		OpenPrice: 2350.00,
		OpenTime:  time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
	}
}

func drainEvents(out chan domain.TradeEvent) []domain.TradeEvent {
	var events []domain.TradeEvent
	for {
		select {
		case ev := <-out:
			events = append(events, ev)
		default:
			return events
		}
	}
}

func TestSubscriber_FirstSnapshotEmitsNothing(t *testing.T) {
	ctx := context.Background()
	s, state, out := newTestSubscriber(&stubClient{})

	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	s.applySnapshot(ctx, []*broker.Position{
		sourcePosition("45817113", 0.01),
		sourcePosition("45817114", 0.02),
	}, at)

	assert.Empty(t, drainEvents(out))
	assert.True(t, state.Synced())
	assert.Len(t, state.OpenPositions(), 2)
}

func TestSubscriber_ResyncEmitsSingleClose(t *testing.T) {
	ctx := context.Background()
	s, _, out := newTestSubscriber(&stubClient{})

	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	s.applySnapshot(ctx, []*broker.Position{
		sourcePosition("45817113", 0.01),
		sourcePosition("45817114", 0.02),
	}, at)
	drainEvents(out)

	// El deal de salida llegó por el stream antes del snapshot
	s.handleDeal(&broker.Deal{
		ID:         "d-1",
		PositionID: "45817114",
		Symbol:     "XAUUSD",
		Volume:     0.02,
		Profit:     15.00,
		Time:       at,
	})

	// La posición cerró mientras estuvimos desconectados; el snapshot
	// de reconexión la sintetiza exactamente una vez
	s.applySnapshot(ctx, []*broker.Position{sourcePosition("45817113", 0.01)}, at.Add(time.Minute))

	events := drainEvents(out)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventClosed, events[0].Kind)
	assert.Equal(t, "45817114", events[0].SourcePositionID)
	assert.Equal(t, 15.00, events[0].Profit)

	// El mismo snapshot otra vez no re-emite el cierre
	s.applySnapshot(ctx, []*broker.Position{sourcePosition("45817113", 0.01)}, at.Add(2*time.Minute))
	assert.Empty(t, drainEvents(out))
}

func TestSubscriber_SnapshotEmitsOpened(t *testing.T) {
	ctx := context.Background()
	s, _, out := newTestSubscriber(&stubClient{})

	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	s.applySnapshot(ctx, []*broker.Position{sourcePosition("45817113", 0.01)}, at)
	drainEvents(out)

	s.applySnapshot(ctx, []*broker.Position{
		sourcePosition("45817113", 0.01),
		sourcePosition("45817115", 0.03),
	}, at.Add(time.Minute))

	events := drainEvents(out)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventOpened, events[0].Kind)
	assert.Equal(t, "45817115", events[0].SourcePositionID)
	assert.Equal(t, 0.03, events[0].Volume)
}

func TestSubscriber_SnapshotEmitsModifiedOnVolumeChange(t *testing.T) {
	ctx := context.Background()
	s, _, out := newTestSubscriber(&stubClient{})

	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	s.applySnapshot(ctx, []*broker.Position{sourcePosition("45817113", 0.01)}, at)
	drainEvents(out)

	s.applySnapshot(ctx, []*broker.Position{sourcePosition("45817113", 0.05)}, at.Add(time.Minute))

	events := drainEvents(out)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventModified, events[0].Kind)
	assert.Equal(t, 0.05, events[0].Volume)
}

func TestSubscriber_ClosedProfitFallsBackToHistory(t *testing.T) {
	ctx := context.Background()
	client := &stubClient{
		historyFn: func(accountID string) ([]*broker.Deal, error) {
			return []*broker.Deal{
				{ID: "d-0", PositionID: "45817113", Entry: true, Profit: 0},
				{ID: "d-1", PositionID: "45817113", Entry: false, Profit: -7.50},
			}, nil
		},
	}
	s, _, out := newTestSubscriber(client)

	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	s.applySnapshot(ctx, []*broker.Position{sourcePosition("45817113", 0.01)}, at)
	drainEvents(out)

	s.applySnapshot(ctx, nil, at.Add(time.Minute))

	events := drainEvents(out)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventClosed, events[0].Kind)
	assert.Equal(t, -7.50, events[0].Profit)
}

func TestSubscriber_HandleDealFeedsRecentTrades(t *testing.T) {
	s, state, _ := newTestSubscriber(&stubClient{})

	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	s.handleDeal(&broker.Deal{ID: "d-1", PositionID: "1", Symbol: "XAUUSD", Volume: 0.01, Profit: -5, Time: at})
	s.handleDeal(&broker.Deal{ID: "d-2", PositionID: "2", Symbol: "XAUUSD", Volume: 0.02, Profit: 3, Time: at.Add(time.Minute)})

	// Los deals de entrada no alimentan el historial
	s.handleDeal(&broker.Deal{ID: "d-3", PositionID: "3", Symbol: "XAUUSD", Volume: 0.04, Entry: true, Time: at})

	recent := state.RecentTrades()
	require.Len(t, recent, 2)
	assert.Equal(t, 0.02, recent[0].Volume)
	assert.Equal(t, 0.01, recent[1].Volume)
}
