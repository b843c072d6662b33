package internal

import (
	"context"
	"sync"
	"time"

	"github.com/Monkeyattack/fxtrueup-sub003/domain"
	"github.com/Monkeyattack/fxtrueup-sub003/utils"
)

// StatsService administra RouteStats particionados por fecha UTC. El
// reset diario a medianoche UTC es implícito: un día nuevo no tiene
// registro hasta el primer write.
//
// En el flujo normal solo escribe el worker del destino de la ruta; el
// mutex cubre el read-modify-write contra lecturas del status feed.
type StatsService struct {
	mu   sync.Mutex
	repo domain.StatsRepository
}

// NewStatsService crea el servicio sobre un repositorio durable.
func NewStatsService(repo domain.StatsRepository) *StatsService {
	return &StatsService{repo: repo}
}

// Today retorna los stats de la ruta para el día UTC de `now`, creando
// un registro en cero si no existe todavía.
func (s *StatsService) Today(ctx context.Context, routeID string, now time.Time) (*domain.RouteStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.todayLocked(ctx, routeID, now)
}

func (s *StatsService) todayLocked(ctx context.Context, routeID string, now time.Time) (*domain.RouteStats, error) {
	date := utils.UTCDateKey(now)
	stats, err := s.repo.Get(ctx, routeID, date)
	if err != nil {
		return nil, err
	}
	if stats == nil {
		stats = &domain.RouteStats{RouteID: routeID, Date: date}
	}
	return stats, nil
}

// RecordCopied incrementa tradesCopied y avanza lastTradeTime.
func (s *StatsService) RecordCopied(ctx context.Context, routeID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats, err := s.todayLocked(ctx, routeID, at)
	if err != nil {
		return err
	}
	stats.TradesCopied++
	if at.After(stats.LastTradeTime) {
		stats.LastTradeTime = at
	}
	return s.repo.Upsert(ctx, stats)
}

// RecordRejected incrementa tradesRejected.
func (s *StatsService) RecordRejected(ctx context.Context, routeID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats, err := s.todayLocked(ctx, routeID, at)
	if err != nil {
		return err
	}
	stats.TradesRejected++
	return s.repo.Upsert(ctx, stats)
}

// RecordProfit acumula el resultado realizado de un cierre en
// dailyProfit o dailyLoss según el signo.
func (s *StatsService) RecordProfit(ctx context.Context, routeID string, profit float64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats, err := s.todayLocked(ctx, routeID, at)
	if err != nil {
		return err
	}
	if profit >= 0 {
		stats.DailyProfit += profit
	} else {
		stats.DailyLoss += -profit
	}
	return s.repo.Upsert(ctx, stats)
}
