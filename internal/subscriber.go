package internal

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Monkeyattack/fxtrueup-sub003/broker"
	"github.com/Monkeyattack/fxtrueup-sub003/domain"
	"github.com/Monkeyattack/fxtrueup-sub003/telemetry"
	"github.com/Monkeyattack/fxtrueup-sub003/telemetry/metricbundle"
	"github.com/Monkeyattack/fxtrueup-sub003/telemetry/semconv"
)

const (
	// heartbeatInterval es la cadencia del chequeo de silencio.
	heartbeatInterval = 30 * time.Second

	// silenceThreshold fuerza reconexión si el servidor lleva más de
	// esto sin emitir nada (conectado pero mudo).
	silenceThreshold = 60 * time.Second

	// alertThreshold escala a alerta de operador si la reconexión no
	// prospera en este lapso. Se sigue reintentando igual.
	alertThreshold = 10 * time.Minute

	reconnectInitialInterval = 1 * time.Second
	reconnectMaxInterval     = 30 * time.Second
)

// Subscriber mantiene una sesión de streaming sincronizada con una
// cuenta fuente y traduce las notificaciones del broker en TradeEvents
// normalizados hacia el coordinador.
//
// Nunca habla con cuentas destino; su único efecto es la emisión de
// eventos.
type Subscriber struct {
	accountID string
	region    string

	client        broker.Client
	state         *SourceState
	out           chan<- domain.TradeEvent
	brokerTimeout time.Duration

	tel     *telemetry.Client
	metrics *metricbundle.RelayMetrics

	// Profits de deals de salida vistos en el stream, para enriquecer
	// eventos closed sin ir al historial.
	profitMu    sync.Mutex
	dealProfits map[string]float64
}

// NewSubscriber crea el subscriber de una cuenta fuente.
func NewSubscriber(accountID, region string, client broker.Client, state *SourceState, out chan<- domain.TradeEvent, brokerTimeout time.Duration, tel *telemetry.Client, metrics *metricbundle.RelayMetrics) *Subscriber {
	return &Subscriber{
		accountID:     accountID,
		region:        region,
		client:        client,
		state:         state,
		out:           out,
		brokerTimeout: brokerTimeout,
		tel:           tel,
		metrics:       metrics,
		dealProfits:   make(map[string]float64),
	}
}

// Run conecta y consume el stream hasta que el contexto muere. Las
// desconexiones nunca son fatales: reconecta indefinidamente con
// backoff exponencial 1s → 30s.
func (s *Subscriber) Run(ctx context.Context) {
	ctx = telemetry.AppendCommonAttrs(ctx,
		semconv.Relay.Component.String(semconv.ComponentValues.Subscriber),
		semconv.Relay.SourceAccountID.String(s.accountID),
	)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = reconnectInitialInterval
	bo.MaxInterval = reconnectMaxInterval
	bo.MaxElapsedTime = 0 // reintentar para siempre

	var disconnectedSince time.Time
	alerted := false

	for {
		if ctx.Err() != nil {
			return
		}

		session, err := s.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if disconnectedSince.IsZero() {
				disconnectedSince = time.Now()
			}
			if !alerted && time.Since(disconnectedSince) > alertThreshold {
				s.tel.Error(ctx, "source stream down beyond alert threshold", err,
					semconv.Relay.Reason.String("reconnect_exhausted_threshold"))
				alerted = true
			} else {
				s.tel.Warn(ctx, "source stream connect failed, will retry",
					semconv.Relay.ErrorCode.String(string(domain.CodeOf(err))))
			}

			wait := bo.NextBackOff()
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}

		if !disconnectedSince.IsZero() {
			s.metrics.RecordStreamReconnect(ctx)
		}
		disconnectedSince = time.Time{}
		alerted = false
		bo.Reset()
		s.tel.Info(ctx, "source stream synchronized")

		s.consume(ctx, session)
		if ctx.Err() != nil {
			return
		}
		disconnectedSince = time.Now()
		s.tel.Warn(ctx, "source stream dropped, reconnecting")
	}
}

// connect abre la sesión y re-sincroniza el snapshot de posiciones.
// El diff contra el último set conocido sintetiza los eventos que
// ocurrieron mientras estuvimos desconectados.
func (s *Subscriber) connect(ctx context.Context) (broker.StreamSession, error) {
	session, err := s.client.Subscribe(ctx, s.accountID, s.region)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.brokerTimeout)
	positions, err := s.client.GetPositions(callCtx, s.accountID, s.region)
	cancel()
	if err != nil {
		session.Close()
		return nil, err
	}

	s.refreshEquity(ctx)
	s.applySnapshot(ctx, positions, time.Now())
	return session, nil
}

// consume procesa eventos del stream hasta que la sesión muere o el
// heartbeat detecta silencio prolongado.
func (s *Subscriber) consume(ctx context.Context, session broker.StreamSession) {
	defer session.Close()

	lastActivity := time.Now()
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-session.Events():
			if !ok {
				return
			}
			lastActivity = time.Now()

			switch ev.Type {
			case broker.EventPositionsUpdated:
				s.applySnapshot(ctx, ev.Positions, ev.At)
			case broker.EventDealAdded:
				s.handleDeal(ev.Deal)
			case broker.EventDisconnected:
				return
			case broker.EventConnected, broker.EventInfoUpdated:
				// keepalive, solo cuenta como actividad
			}

		case <-heartbeat.C:
			if time.Since(lastActivity) > silenceThreshold {
				s.tel.Warn(ctx, "source stream silent too long, forcing reconnect",
					semconv.Relay.Reason.String("heartbeat_silence"))
				return
			}
		}
	}
}

// applySnapshot diffea el set vivo completo contra el último conocido y
// emite opened/modified/closed según corresponda. En la primera
// sincronización las posiciones preexistentes solo se marcan como
// vistas; el replay de copyExistingPositions lo decide el coordinador.
func (s *Subscriber) applySnapshot(ctx context.Context, positions []*broker.Position, at time.Time) {
	wasSynced := s.state.Synced()
	previous := make(map[string]domain.OpenPosition)
	for _, pos := range s.state.OpenPositions() {
		previous[pos.PositionID] = pos
	}

	current := make([]domain.OpenPosition, 0, len(positions))
	for _, pos := range positions {
		current = append(current, domain.OpenPosition{
			PositionID: pos.ID,
			Symbol:     pos.Symbol,
			Direction:  pos.Direction,
			Volume:     pos.Volume,
			OpenPrice:  pos.OpenPrice,
			OpenTime:   pos.OpenTime,
			Comment:    pos.Comment,
		})
	}

	vanished := s.state.ReplaceOpenPositions(current)

	if wasSynced {
		for _, pos := range current {
			prev, known := previous[pos.PositionID]
			switch {
			case !known:
				s.emit(ctx, domain.TradeEvent{
					SourceAccountID:  s.accountID,
					SourcePositionID: pos.PositionID,
					Symbol:           pos.Symbol,
					Direction:        pos.Direction,
					Volume:           pos.Volume,
					Price:            pos.OpenPrice,
					Time:             at,
					Kind:             domain.EventOpened,
				})
			case prev.Volume != pos.Volume:
				s.emit(ctx, domain.TradeEvent{
					SourceAccountID:  s.accountID,
					SourcePositionID: pos.PositionID,
					Symbol:           pos.Symbol,
					Direction:        pos.Direction,
					Volume:           pos.Volume,
					Price:            pos.OpenPrice,
					Time:             at,
					Kind:             domain.EventModified,
				})
			}
		}
	}

	for _, pos := range vanished {
		s.emit(ctx, domain.TradeEvent{
			SourceAccountID:  s.accountID,
			SourcePositionID: pos.PositionID,
			Symbol:           pos.Symbol,
			Direction:        pos.Direction,
			Volume:           pos.Volume,
			Price:            pos.OpenPrice,
			Time:             at,
			Kind:             domain.EventClosed,
			Profit:           s.lookupProfit(ctx, pos.PositionID),
		})
	}
}

// handleDeal alimenta el historial reciente con deals de salida y
// cachea su profit para el evento closed que viene detrás.
func (s *Subscriber) handleDeal(deal *broker.Deal) {
	if deal == nil || deal.Entry {
		return
	}

	s.profitMu.Lock()
	s.dealProfits[deal.PositionID] = deal.Profit
	if len(s.dealProfits) > recentTradeCap {
		// poda gruesa; el cache solo puentea deal → closed
		for id := range s.dealProfits {
			if id != deal.PositionID {
				delete(s.dealProfits, id)
				break
			}
		}
	}
	s.profitMu.Unlock()

	s.state.RecordTrade(domain.SourceTrade{
		Symbol: deal.Symbol,
		Volume: deal.Volume,
		Profit: deal.Profit,
		Time:   deal.Time,
	})
}

// lookupProfit resuelve el profit realizado de una posición cerrada:
// primero el cache de deals del stream, después el historial del broker.
func (s *Subscriber) lookupProfit(ctx context.Context, positionID string) float64 {
	s.profitMu.Lock()
	profit, ok := s.dealProfits[positionID]
	if ok {
		delete(s.dealProfits, positionID)
	}
	s.profitMu.Unlock()
	if ok {
		return profit
	}

	callCtx, cancel := context.WithTimeout(ctx, s.brokerTimeout)
	defer cancel()
	deals, err := s.client.GetTradeHistory(callCtx, s.accountID, s.region, 2, 200)
	if err != nil {
		s.tel.Warn(ctx, "failed to fetch history for closed position",
			semconv.Relay.PositionID.String(positionID),
			semconv.Relay.ErrorCode.String(string(domain.CodeOf(err))))
		return 0
	}
	for _, deal := range deals {
		if deal.PositionID == positionID && !deal.Entry {
			return deal.Profit
		}
	}
	return 0
}

func (s *Subscriber) refreshEquity(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, s.brokerTimeout)
	defer cancel()
	info, err := s.client.GetAccountInfo(callCtx, s.accountID, s.region)
	if err != nil {
		s.tel.Warn(ctx, "failed to refresh source equity",
			semconv.Relay.ErrorCode.String(string(domain.CodeOf(err))))
		return
	}
	s.state.SetEquity(info.Equity)
}

func (s *Subscriber) emit(ctx context.Context, event domain.TradeEvent) {
	s.state.ObserveVolume(event.Symbol, event.Volume)
	s.state.TouchEvent(event.Time)
	s.metrics.RecordEventReceived(ctx,
		semconv.Relay.Symbol.String(event.Symbol),
		semconv.Relay.EventKind.String(string(event.Kind)),
	)

	select {
	case <-ctx.Done():
	case s.out <- event:
	}
}
