package internal

import (
	"sync"
	"time"

	"github.com/Monkeyattack/fxtrueup-sub003/domain"
)

// recentTradeCap limita el historial en memoria por cuenta fuente. La
// detección de martingala solo mira los últimos 5 deals por símbolo;
// 50 da margen para fuentes multi-símbolo.
const recentTradeCap = 50

// SourceState es el snapshot en memoria de una cuenta fuente: posiciones
// vivas, deals recientes, volúmenes base por símbolo y equity.
//
// Lo escribe el subscriber de la cuenta y lo leen los workers de los
// destinos, de ahí el RWMutex. Es el RouteRuntimeState explícito que
// reemplaza a los caches globales: cada coordinador arma los suyos y
// los pasa por handle, nunca por singleton.
type SourceState struct {
	mu sync.RWMutex

	accountID     string
	openPositions map[string]domain.OpenPosition
	recentTrades  []domain.SourceTrade
	baseVolumes   map[string]float64
	equity        float64
	lastEventAt   time.Time
	synced        bool
}

// NewSourceState crea el estado vacío de una cuenta fuente.
func NewSourceState(accountID string) *SourceState {
	return &SourceState{
		accountID:     accountID,
		openPositions: make(map[string]domain.OpenPosition),
		baseVolumes:   make(map[string]float64),
	}
}

// AccountID retorna la cuenta fuente de este estado.
func (s *SourceState) AccountID() string {
	return s.accountID
}

// ReplaceOpenPositions reemplaza el set vivo completo y retorna las
// posiciones que desaparecieron respecto del set anterior (para
// sintetizar eventos closed).
func (s *SourceState) ReplaceOpenPositions(positions []domain.OpenPosition) []domain.OpenPosition {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]domain.OpenPosition, len(positions))
	for _, pos := range positions {
		next[pos.PositionID] = pos
		s.observeVolumeLocked(pos.Symbol, pos.Volume)
	}

	var vanished []domain.OpenPosition
	for id, pos := range s.openPositions {
		if _, still := next[id]; !still {
			vanished = append(vanished, pos)
		}
	}

	s.openPositions = next
	s.synced = true
	return vanished
}

// OpenPositions retorna una copia del set vivo.
func (s *SourceState) OpenPositions() []domain.OpenPosition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.OpenPosition, 0, len(s.openPositions))
	for _, pos := range s.openPositions {
		result = append(result, pos)
	}
	return result
}

// HasPosition indica si la posición sigue viva en la fuente.
func (s *SourceState) HasPosition(positionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.openPositions[positionID]
	return ok
}

// Position retorna la posición viva, si existe.
func (s *SourceState) Position(positionID string) (domain.OpenPosition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.openPositions[positionID]
	return pos, ok
}

// Synced indica si el subscriber ya completó al menos una
// sincronización con el broker.
func (s *SourceState) Synced() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.synced
}

// RecordTrade agrega un deal cerrado al historial reciente (más nuevo
// primero).
func (s *SourceState) RecordTrade(trade domain.SourceTrade) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recentTrades = append([]domain.SourceTrade{trade}, s.recentTrades...)
	if len(s.recentTrades) > recentTradeCap {
		s.recentTrades = s.recentTrades[:recentTradeCap]
	}
}

// RecentTrades retorna una copia del historial reciente, más nuevo
// primero.
func (s *SourceState) RecentTrades() []domain.SourceTrade {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.SourceTrade, len(s.recentTrades))
	copy(result, s.recentTrades)
	return result
}

// ObserveVolume registra el primer lot size visto para un símbolo.
func (s *SourceState) ObserveVolume(symbol string, volume float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observeVolumeLocked(symbol, volume)
}

func (s *SourceState) observeVolumeLocked(symbol string, volume float64) {
	if _, seen := s.baseVolumes[symbol]; !seen && volume > 0 {
		s.baseVolumes[symbol] = volume
	}
}

// BaseVolume retorna el primer lot size visto para el símbolo, o cero
// si todavía no hay base.
func (s *SourceState) BaseVolume(symbol string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseVolumes[symbol]
}

// SetEquity actualiza el equity conocido de la fuente.
func (s *SourceState) SetEquity(equity float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.equity = equity
}

// Equity retorna el último equity conocido (cero si nunca se leyó; el
// sizing proporcional degrada en ese caso).
func (s *SourceState) Equity() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.equity
}

// TouchEvent marca actividad de la fuente.
func (s *SourceState) TouchEvent(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if at.After(s.lastEventAt) {
		s.lastEventAt = at
	}
}

// LastEventAt retorna el instante del último evento de la fuente.
func (s *SourceState) LastEventAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastEventAt
}
