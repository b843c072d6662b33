package internal

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Monkeyattack/fxtrueup-sub003/broker"
	"github.com/Monkeyattack/fxtrueup-sub003/domain"
	"github.com/Monkeyattack/fxtrueup-sub003/telemetry"
	"github.com/Monkeyattack/fxtrueup-sub003/telemetry/metricbundle"
	"github.com/Monkeyattack/fxtrueup-sub003/telemetry/semconv"
	"github.com/Monkeyattack/fxtrueup-sub003/utils"
)

const (
	dispatchMaxRetries      = 3
	dispatchInitialInterval = 500 * time.Millisecond
	dispatchMaxInterval     = 5 * time.Second
)

// CloseReason values registrados en los mappings.
const (
	CloseReasonSourceClosed = "source_closed"
	CloseReasonReconcile    = "reconcile_source_gone"
)

// Dispatcher es el único escritor hacia cuentas destino y el dueño de
// la garantía de deduplicación.
//
// Un mapping existente para el triple (fuente, posición, destino) hace
// del copy un no-op, nunca un error: idempotencia antes que romper la
// correctitud con una doble ejecución.
type Dispatcher struct {
	client        broker.Client
	mappings      domain.MappingRepository
	stats         *StatsService
	log           *EventLog
	brokerTimeout time.Duration

	tel     *telemetry.Client
	metrics *metricbundle.RelayMetrics
}

// NewDispatcher crea el dispatcher de ejecución.
func NewDispatcher(client broker.Client, mappings domain.MappingRepository, stats *StatsService, log *EventLog, brokerTimeout time.Duration, tel *telemetry.Client, metrics *metricbundle.RelayMetrics) *Dispatcher {
	return &Dispatcher{
		client:        client,
		mappings:      mappings,
		stats:         stats,
		log:           log,
		brokerTimeout: brokerTimeout,
		tel:           tel,
		metrics:       metrics,
	}
}

// CopyTrade replica un evento aceptado y dimensionado hacia el destino
// de la ruta. Retorna (copied=false, nil) cuando el evento era un
// duplicado y no se ejecutó nada.
func (d *Dispatcher) CopyTrade(ctx context.Context, route *domain.Route, destRegion string, event *domain.TradeEvent, destVolume float64) (bool, error) {
	existing, err := d.mappings.Get(ctx, event.SourceAccountID, event.SourcePositionID, route.DestAccountID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		// Vivo: notificación duplicada. Cerrado: reprocesamiento de un
		// evento viejo. Ambos casos son no-op.
		d.metrics.RecordTradeSkipped(ctx, semconv.Relay.PositionID.String(event.SourcePositionID))
		d.tel.Debug(ctx, "duplicate trade event, mapping already exists",
			semconv.Relay.PositionID.String(event.SourcePositionID),
			semconv.Relay.DestPositionID.String(existing.DestPositionID))
		return false, nil
	}

	comment := domain.FormatCopyComment(event.SourcePositionID, destVolume)
	request := &broker.OrderRequest{
		Symbol:  event.Symbol,
		Action:  event.Direction,
		Volume:  destVolume,
		Comment: comment,
	}

	started := time.Now()
	result, err := d.executeWithRetry(ctx, route.DestAccountID, destRegion, request)
	if err != nil {
		code := domain.CodeOf(err)
		d.metrics.RecordDispatchError(ctx, semconv.Relay.ErrorCode.String(string(code)))
		d.statsRejected(ctx, route.ID, event.Time)
		d.appendLog(ctx, &LogRecord{
			Event:         LogEventError,
			RouteID:       route.ID,
			SourceTradeID: event.SourcePositionID,
			Symbol:        event.Symbol,
			SourceVolume:  event.Volume,
			DestVolume:    destVolume,
			ErrorCode:     string(code),
		})
		return false, err
	}

	mapping := &domain.PositionMapping{
		SourceAccountID:  event.SourceAccountID,
		SourcePositionID: event.SourcePositionID,
		DestAccountID:    route.DestAccountID,
		DestPositionID:   result.PositionID,
		SourceSymbol:     event.Symbol,
		DestSymbol:       event.Symbol,
		SourceVolume:     event.Volume,
		DestVolume:       destVolume,
		OpenTime:         event.Time,
		SourceOpenPrice:  event.Price,
		DestOpenPrice:    result.Price,
		Comment:          comment,
	}
	if err := d.mappings.Upsert(ctx, mapping); err != nil {
		// La orden ya está en el broker; la reconciliación la
		// re-asociará por el comentario de correlación.
		d.tel.Error(ctx, "order filled but mapping persistence failed", err,
			semconv.Relay.PositionID.String(event.SourcePositionID),
			semconv.Relay.DestPositionID.String(result.PositionID))
		return true, err
	}

	if err := d.stats.RecordCopied(ctx, route.ID, event.Time); err != nil {
		d.tel.Warn(ctx, "failed to update route stats after copy",
			semconv.Relay.RouteID.String(route.ID))
	}

	latency := float64(utils.ElapsedMsSince(started))
	d.metrics.RecordTradeCopied(ctx,
		semconv.Relay.RouteID.String(route.ID),
		semconv.Relay.Symbol.String(event.Symbol))
	d.metrics.RecordDispatchLatency(ctx, latency, semconv.Relay.RouteID.String(route.ID))

	d.appendLog(ctx, &LogRecord{
		Event:         LogEventCopied,
		RouteID:       route.ID,
		SourceTradeID: event.SourcePositionID,
		Symbol:        event.Symbol,
		SourceVolume:  event.Volume,
		DestVolume:    destVolume,
		OrderID:       result.OrderID,
	})
	d.tel.Info(ctx, "trade copied",
		semconv.Relay.PositionID.String(event.SourcePositionID),
		semconv.Relay.DestPositionID.String(result.PositionID),
		semconv.Relay.LotSize.Float64(destVolume),
		semconv.Relay.Price.Float64(result.Price))
	return true, nil
}

// CloseCopy cierra la copia destino de una posición fuente cerrada. Si
// el cierre falla, el mapping queda vivo y la reconciliación reintenta.
func (d *Dispatcher) CloseCopy(ctx context.Context, route *domain.Route, destRegion string, event *domain.TradeEvent) error {
	mapping, err := d.mappings.Get(ctx, event.SourceAccountID, event.SourcePositionID, route.DestAccountID)
	if err != nil {
		return err
	}
	if mapping == nil || !mapping.IsLive() {
		return nil
	}

	result, err := d.closeWithRetry(ctx, route.DestAccountID, destRegion, mapping.DestPositionID)
	if err != nil {
		code := domain.CodeOf(err)
		d.tel.Error(ctx, "failed to close destination copy", err,
			semconv.Relay.PositionID.String(event.SourcePositionID),
			semconv.Relay.DestPositionID.String(mapping.DestPositionID),
			semconv.Relay.ErrorCode.String(string(code)))
		return err
	}

	if err := d.mappings.MarkClosed(ctx, event.SourceAccountID, event.SourcePositionID, route.DestAccountID, time.Now().UTC(), CloseReasonSourceClosed); err != nil {
		return err
	}
	if err := d.stats.RecordProfit(ctx, route.ID, result.Profit, event.Time); err != nil {
		d.tel.Warn(ctx, "failed to update route profit stats",
			semconv.Relay.RouteID.String(route.ID))
	}

	d.metrics.RecordTradeClosed(ctx,
		semconv.Relay.RouteID.String(route.ID),
		semconv.Relay.Symbol.String(event.Symbol))
	d.appendLog(ctx, &LogRecord{
		Event:         LogEventClosed,
		RouteID:       route.ID,
		SourceTradeID: event.SourcePositionID,
		Symbol:        event.Symbol,
		SourceVolume:  event.Volume,
		DestVolume:    mapping.DestVolume,
		Profit:        result.Profit,
	})
	d.tel.Info(ctx, "destination copy closed",
		semconv.Relay.PositionID.String(event.SourcePositionID),
		semconv.Relay.DestPositionID.String(mapping.DestPositionID),
		semconv.Relay.Profit.Float64(result.Profit))
	return nil
}

// executeWithRetry reintenta errores transitorios con backoff corto;
// los rechazos permanentes del broker cortan de inmediato.
func (d *Dispatcher) executeWithRetry(ctx context.Context, accountID, region string, req *broker.OrderRequest) (*broker.OrderResult, error) {
	var result *broker.OrderResult
	attempt := 0

	operation := func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, d.brokerTimeout)
		defer cancel()

		started := time.Now()
		res, err := d.client.ExecuteTrade(callCtx, accountID, region, req)
		d.metrics.RecordBrokerCallLatency(ctx, float64(utils.ElapsedMsSince(started)))
		if err != nil {
			code := domain.CodeOf(err)
			if !domain.IsRetryable(code) {
				return backoff.Permanent(err)
			}
			d.tel.Warn(ctx, "transient broker error, retrying order",
				semconv.Relay.Attempt.Int(attempt),
				semconv.Relay.ErrorCode.String(string(code)))
			return err
		}
		result = res
		return nil
	}

	if err := backoff.Retry(operation, d.retryPolicy(ctx)); err != nil {
		return nil, err
	}
	return result, nil
}

func (d *Dispatcher) closeWithRetry(ctx context.Context, accountID, region, positionID string) (*broker.CloseResult, error) {
	var result *broker.CloseResult
	attempt := 0

	operation := func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, d.brokerTimeout)
		defer cancel()

		started := time.Now()
		res, err := d.client.ClosePosition(callCtx, accountID, region, positionID)
		d.metrics.RecordBrokerCallLatency(ctx, float64(utils.ElapsedMsSince(started)))
		if err != nil {
			if !domain.IsRetryable(domain.CodeOf(err)) {
				return backoff.Permanent(err)
			}
			d.tel.Warn(ctx, "transient broker error, retrying close",
				semconv.Relay.Attempt.Int(attempt),
				semconv.Relay.DestPositionID.String(positionID))
			return err
		}
		result = res
		return nil
	}

	if err := backoff.Retry(operation, d.retryPolicy(ctx)); err != nil {
		return nil, err
	}
	return result, nil
}

func (d *Dispatcher) retryPolicy(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = dispatchInitialInterval
	bo.MaxInterval = dispatchMaxInterval
	return backoff.WithContext(backoff.WithMaxRetries(bo, dispatchMaxRetries), ctx)
}

func (d *Dispatcher) statsRejected(ctx context.Context, routeID string, at time.Time) {
	if err := d.stats.RecordRejected(ctx, routeID, at); err != nil {
		d.tel.Warn(ctx, "failed to update route stats",
			semconv.Relay.RouteID.String(routeID))
	}
}

func (d *Dispatcher) appendLog(ctx context.Context, record *LogRecord) {
	if err := d.log.Append(record); err != nil {
		d.tel.Warn(ctx, "failed to append event log record")
	}
}
