package metricbundle

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RelayMetrics bundle de métricas del motor de copiado.
//
// Cubre el funnel completo de replicación:
// - Eventos recibidos desde las cuentas origen
// - Decisiones del motor de filtros
// - Trades copiados/cerrados en destino
// - Reconexiones y resultados de reconciliación
//
// # Métricas de Conteo
//
//   - relay.event.received: Eventos de trade recibidos por los subscribers
//   - relay.trade.copied: Trades copiados con éxito en destino
//   - relay.trade.rejected: Eventos rechazados por el motor de filtros
//   - relay.trade.closed: Copias cerradas en destino
//   - relay.trade.skipped: Eventos descartados por idempotencia
//   - relay.dispatch.error: Errores de ejecución tras agotar reintentos
//   - relay.stream.reconnect: Reconexiones de streams de cuentas origen
//   - relay.reconcile.repaired: Mappings reconstruidos por el reconciliador
//   - relay.reconcile.orphan: Posiciones huérfanas detectadas
//
// # Métricas de Latencia
//
//   - relay.latency.dispatch: Latencia evento recibido → orden confirmada
//   - relay.latency.broker_call: Latencia de llamadas individuales al pool
//
// # Uso
//
//	metrics, _ := metricbundle.NewRelayMetrics(client.Meter())
//
//	metrics.RecordEventReceived(ctx,
//	    attribute.String("relay.symbol", "EURUSD"),
//	)
//
//	metrics.RecordDispatchLatency(ctx, 85.5,
//	    attribute.String("relay.route_id", "route_1"),
//	)
type RelayMetrics struct {
	// Counters
	EventReceived     metric.Int64Counter
	TradeCopied       metric.Int64Counter
	TradeRejected     metric.Int64Counter
	TradeClosed       metric.Int64Counter
	TradeSkipped      metric.Int64Counter
	DispatchError     metric.Int64Counter
	StreamReconnect   metric.Int64Counter
	ReconcileRepaired metric.Int64Counter
	ReconcileOrphan   metric.Int64Counter

	// Histograms
	DispatchLatency   metric.Float64Histogram
	BrokerCallLatency metric.Float64Histogram
}

// NewRelayMetrics crea un nuevo bundle de métricas del relay.
// Retorna nil sin error si el meter no está configurado.
func NewRelayMetrics(meter metric.Meter) (*RelayMetrics, error) {
	if meter == nil {
		return nil, nil
	}

	eventReceived, err := meter.Int64Counter(
		"relay.event.received",
		metric.WithDescription("Eventos de trade recibidos por los subscribers"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	tradeCopied, err := meter.Int64Counter(
		"relay.trade.copied",
		metric.WithDescription("Trades copiados con éxito en destino"),
		metric.WithUnit("{trade}"),
	)
	if err != nil {
		return nil, err
	}

	tradeRejected, err := meter.Int64Counter(
		"relay.trade.rejected",
		metric.WithDescription("Eventos rechazados por el motor de filtros"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	tradeClosed, err := meter.Int64Counter(
		"relay.trade.closed",
		metric.WithDescription("Copias cerradas en destino"),
		metric.WithUnit("{trade}"),
	)
	if err != nil {
		return nil, err
	}

	tradeSkipped, err := meter.Int64Counter(
		"relay.trade.skipped",
		metric.WithDescription("Eventos descartados por idempotencia (mapping ya existente)"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	dispatchError, err := meter.Int64Counter(
		"relay.dispatch.error",
		metric.WithDescription("Errores de ejecución tras agotar reintentos"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	streamReconnect, err := meter.Int64Counter(
		"relay.stream.reconnect",
		metric.WithDescription("Reconexiones de streams de cuentas origen"),
		metric.WithUnit("{reconnect}"),
	)
	if err != nil {
		return nil, err
	}

	reconcileRepaired, err := meter.Int64Counter(
		"relay.reconcile.repaired",
		metric.WithDescription("Mappings reconstruidos por el reconciliador"),
		metric.WithUnit("{mapping}"),
	)
	if err != nil {
		return nil, err
	}

	reconcileOrphan, err := meter.Int64Counter(
		"relay.reconcile.orphan",
		metric.WithDescription("Posiciones huérfanas detectadas en destino"),
		metric.WithUnit("{position}"),
	)
	if err != nil {
		return nil, err
	}

	dispatchLatency, err := meter.Float64Histogram(
		"relay.latency.dispatch",
		metric.WithDescription("Latencia evento recibido → orden confirmada en destino"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	brokerCallLatency, err := meter.Float64Histogram(
		"relay.latency.broker_call",
		metric.WithDescription("Latencia de llamadas individuales al pool de brokers"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &RelayMetrics{
		EventReceived:     eventReceived,
		TradeCopied:       tradeCopied,
		TradeRejected:     tradeRejected,
		TradeClosed:       tradeClosed,
		TradeSkipped:      tradeSkipped,
		DispatchError:     dispatchError,
		StreamReconnect:   streamReconnect,
		ReconcileRepaired: reconcileRepaired,
		ReconcileOrphan:   reconcileOrphan,
		DispatchLatency:   dispatchLatency,
		BrokerCallLatency: brokerCallLatency,
	}, nil
}

// RecordEventReceived registra recepción de un evento de trade.
func (m *RelayMetrics) RecordEventReceived(ctx context.Context, attrs ...attribute.KeyValue) {
	if m == nil {
		return
	}
	m.EventReceived.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordTradeCopied registra un trade copiado con éxito.
func (m *RelayMetrics) RecordTradeCopied(ctx context.Context, attrs ...attribute.KeyValue) {
	if m == nil {
		return
	}
	m.TradeCopied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordTradeRejected registra un rechazo del motor de filtros con su razón.
func (m *RelayMetrics) RecordTradeRejected(ctx context.Context, reason string, attrs ...attribute.KeyValue) {
	if m == nil {
		return
	}
	baseAttrs := []attribute.KeyValue{}
	if reason != "" {
		baseAttrs = append(baseAttrs, attribute.String("reason", reason))
	}
	baseAttrs = append(baseAttrs, attrs...)
	m.TradeRejected.Add(ctx, 1, metric.WithAttributes(baseAttrs...))
}

// RecordTradeClosed registra el cierre de una copia en destino.
func (m *RelayMetrics) RecordTradeClosed(ctx context.Context, attrs ...attribute.KeyValue) {
	if m == nil {
		return
	}
	m.TradeClosed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordTradeSkipped registra un evento descartado por idempotencia.
func (m *RelayMetrics) RecordTradeSkipped(ctx context.Context, attrs ...attribute.KeyValue) {
	if m == nil {
		return
	}
	m.TradeSkipped.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordDispatchError registra un error de ejecución definitivo.
func (m *RelayMetrics) RecordDispatchError(ctx context.Context, attrs ...attribute.KeyValue) {
	if m == nil {
		return
	}
	m.DispatchError.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordStreamReconnect registra una reconexión de stream.
func (m *RelayMetrics) RecordStreamReconnect(ctx context.Context, attrs ...attribute.KeyValue) {
	if m == nil {
		return
	}
	m.StreamReconnect.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordReconcileRepaired registra un mapping reconstruido.
func (m *RelayMetrics) RecordReconcileRepaired(ctx context.Context, attrs ...attribute.KeyValue) {
	if m == nil {
		return
	}
	m.ReconcileRepaired.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordReconcileOrphan registra una posición huérfana detectada.
func (m *RelayMetrics) RecordReconcileOrphan(ctx context.Context, attrs ...attribute.KeyValue) {
	if m == nil {
		return
	}
	m.ReconcileOrphan.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordDispatchLatency registra latencia evento → confirmación (ms).
func (m *RelayMetrics) RecordDispatchLatency(ctx context.Context, latencyMs float64, attrs ...attribute.KeyValue) {
	if m == nil {
		return
	}
	m.DispatchLatency.Record(ctx, latencyMs, metric.WithAttributes(attrs...))
}

// RecordBrokerCallLatency registra latencia de una llamada al pool (ms).
func (m *RelayMetrics) RecordBrokerCallLatency(ctx context.Context, latencyMs float64, attrs ...attribute.KeyValue) {
	if m == nil {
		return
	}
	m.BrokerCallLatency.Record(ctx, latencyMs, metric.WithAttributes(attrs...))
}
