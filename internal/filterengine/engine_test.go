package filterengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Monkeyattack/fxtrueup-sub003/domain"
)

func baseEvent(t time.Time) *domain.TradeEvent {
	return &domain.TradeEvent{
		SourceAccountID:  "src_1",
		SourcePositionID: "1001",
		Symbol:           "XAUUSD",
		Direction:        domain.DirectionBuy,
		Volume:           0.10,
		Price:            2350.00,
		Time:             t,
		Kind:             domain.EventOpened,
	}
}

func TestEvaluate_AcceptsWithPermissiveRules(t *testing.T) {
	decision := Evaluate(Input{
		Event: baseEvent(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)),
		Rules: &domain.RuleSet{ID: "rs_1"},
		Stats: &domain.RouteStats{},
	})

	require.True(t, decision.Accept)
	assert.Empty(t, decision.Reasons)
}

func TestEvaluate_MaxOpenPositions(t *testing.T) {
	decision := Evaluate(Input{
		Event: baseEvent(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)),
		Rules: &domain.RuleSet{MaxOpenPositions: 1},
		Stats: &domain.RouteStats{},
		OpenDestPositions: []domain.OpenPosition{
			{PositionID: "d1", Symbol: "XAUUSD"},
		},
	})

	require.False(t, decision.Accept)
	assert.Equal(t, []string{ReasonMaxOpenPositions}, decision.Reasons)
}

// Escenario: maxOpenPositions 1, cooldown 30min, horario 8..17. Dos
// compras XAUUSD a las 09:00 y 09:10 UTC sin posiciones destino: la
// primera pasa, la segunda cae por cooldown.
func TestEvaluate_CooldownScenario(t *testing.T) {
	rules := &domain.RuleSet{
		MaxOpenPositions:     1,
		MinTimeBetweenTrades: 30 * time.Minute,
		AllowedHours:         []int{8, 9, 10, 11, 12, 13, 14, 15, 16, 17},
	}

	first := Evaluate(Input{
		Event: baseEvent(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)),
		Rules: rules,
		Stats: &domain.RouteStats{},
	})
	require.True(t, first.Accept)

	// El worker copió el primero y actualizó lastTradeTime
	stats := &domain.RouteStats{
		TradesCopied:  1,
		LastTradeTime: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}

	second := Evaluate(Input{
		Event: baseEvent(time.Date(2026, 3, 2, 9, 10, 0, 0, time.UTC)),
		Rules: rules,
		Stats: stats,
	})
	require.False(t, second.Accept)
	assert.Equal(t, []string{ReasonCooldown}, second.Reasons)
}

func TestEvaluate_DailyTradeLimit(t *testing.T) {
	decision := Evaluate(Input{
		Event: baseEvent(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)),
		Rules: &domain.RuleSet{MaxDailyTrades: 3},
		Stats: &domain.RouteStats{TradesCopied: 3},
	})

	require.False(t, decision.Accept)
	assert.Equal(t, []string{ReasonDailyTradeLimit}, decision.Reasons)
}

func TestEvaluate_DailyLossLimit(t *testing.T) {
	decision := Evaluate(Input{
		Event: baseEvent(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)),
		Rules: &domain.RuleSet{DailyLossLimit: 500},
		Stats: &domain.RouteStats{DailyLoss: 612.40},
	})

	require.False(t, decision.Accept)
	assert.Equal(t, []string{ReasonDailyLossLimit}, decision.Reasons)
}

func TestEvaluate_OutsideAllowedHours(t *testing.T) {
	decision := Evaluate(Input{
		Event: baseEvent(time.Date(2026, 3, 2, 22, 30, 0, 0, time.UTC)),
		Rules: &domain.RuleSet{AllowedHours: []int{8, 9, 10}},
		Stats: &domain.RouteStats{},
	})

	require.False(t, decision.Accept)
	assert.Equal(t, []string{ReasonOutsideHours}, decision.Reasons)
}

func TestEvaluate_MartingaleAboveBaseVolume(t *testing.T) {
	event := baseEvent(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	event.Volume = 0.20

	decision := Evaluate(Input{
		Event:      event,
		Rules:      &domain.RuleSet{MartingaleDetection: true},
		Stats:      &domain.RouteStats{},
		BaseVolume: 0.10,
	})

	require.False(t, decision.Accept)
	assert.Equal(t, []string{ReasonMartingale}, decision.Reasons)
}

func TestEvaluate_MartingaleAfterLoss(t *testing.T) {
	event := baseEvent(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	event.Volume = 0.15

	decision := Evaluate(Input{
		Event: event,
		Rules: &domain.RuleSet{MartingaleDetection: true},
		Stats: &domain.RouteStats{},
		RecentSourceTrades: []domain.SourceTrade{
			{Symbol: "XAUUSD", Volume: 0.10, Profit: -42.00},
		},
		BaseVolume: 0.15,
	})

	require.False(t, decision.Accept)
	assert.Equal(t, []string{ReasonMartingale}, decision.Reasons)
}

func TestEvaluate_MartingaleLookbackWindow(t *testing.T) {
	event := baseEvent(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	event.Volume = 0.15

	// La única pérdida está fuera de la ventana de 5 deals del símbolo
	recent := []domain.SourceTrade{
		{Symbol: "XAUUSD", Volume: 0.15, Profit: 10},
		{Symbol: "EURUSD", Volume: 0.05, Profit: -99}, // otro símbolo, no cuenta
		{Symbol: "XAUUSD", Volume: 0.15, Profit: 12},
		{Symbol: "XAUUSD", Volume: 0.15, Profit: 8},
		{Symbol: "XAUUSD", Volume: 0.15, Profit: 4},
		{Symbol: "XAUUSD", Volume: 0.15, Profit: 3},
		{Symbol: "XAUUSD", Volume: 0.10, Profit: -50}, // sexto deal XAUUSD
	}

	decision := Evaluate(Input{
		Event:              event,
		Rules:              &domain.RuleSet{MartingaleDetection: true},
		Stats:              &domain.RouteStats{},
		RecentSourceTrades: recent,
		BaseVolume:         0.15,
	})

	assert.True(t, decision.Accept)
}

func TestEvaluate_GridDetection(t *testing.T) {
	event := baseEvent(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	event.Symbol = "EURUSD"
	event.Price = 1.08500

	decision := Evaluate(Input{
		Event: event,
		Rules: &domain.RuleSet{GridDetection: true, PriceRangeFilterPips: 10},
		Stats: &domain.RouteStats{},
		OpenSourcePositions: []domain.OpenPosition{
			{PositionID: "s1", Symbol: "EURUSD", OpenPrice: 1.08560}, // 6 pips
		},
	})

	require.False(t, decision.Accept)
	assert.Equal(t, []string{ReasonGrid}, decision.Reasons)
}

// El snapshot de posiciones vivas ya incluye la posición que generó el
// evento; esa posición está a 0 pips de sí misma y no debe dispararse.
func TestEvaluate_GridIgnoresEventOwnPosition(t *testing.T) {
	event := baseEvent(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	event.Symbol = "EURUSD"
	event.Price = 1.08500

	decision := Evaluate(Input{
		Event: event,
		Rules: &domain.RuleSet{GridDetection: true, PriceRangeFilterPips: 10},
		Stats: &domain.RouteStats{},
		OpenSourcePositions: []domain.OpenPosition{
			{PositionID: event.SourcePositionID, Symbol: "EURUSD", OpenPrice: 1.08500},
		},
	})

	assert.True(t, decision.Accept)
}

func TestEvaluate_GridOutsideRange(t *testing.T) {
	event := baseEvent(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	event.Symbol = "EURUSD"
	event.Price = 1.08500

	decision := Evaluate(Input{
		Event: event,
		Rules: &domain.RuleSet{GridDetection: true, PriceRangeFilterPips: 10},
		Stats: &domain.RouteStats{},
		OpenSourcePositions: []domain.OpenPosition{
			{PositionID: "s1", Symbol: "EURUSD", OpenPrice: 1.08700}, // 20 pips
		},
	})

	assert.True(t, decision.Accept)
}

func TestPipSize(t *testing.T) {
	assert.Equal(t, 0.01, PipSize("USDJPY"))
	assert.Equal(t, 0.01, PipSize("gbpjpy"))
	assert.Equal(t, 0.0001, PipSize("EURUSD"))
	assert.Equal(t, 0.0001, PipSize("XAUUSD"))
}

func TestEvaluate_Deterministic(t *testing.T) {
	in := Input{
		Event: baseEvent(time.Date(2026, 3, 2, 9, 10, 0, 0, time.UTC)),
		Rules: &domain.RuleSet{
			MinTimeBetweenTrades: 30 * time.Minute,
			MartingaleDetection:  true,
			GridDetection:        true,
			PriceRangeFilterPips: 5,
		},
		Stats: &domain.RouteStats{
			TradesCopied:  1,
			LastTradeTime: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		},
	}

	first := Evaluate(in)
	for i := 0; i < 10; i++ {
		again := Evaluate(in)
		assert.Equal(t, first.Accept, again.Accept)
		assert.Equal(t, first.Reasons, again.Reasons)
	}
}
