package semconv

import "go.opentelemetry.io/otel/attribute"

// Relay contiene atributos semánticos específicos del motor de copiado.
//
// # Identificadores
//
//   - relay.route_id: ID de la ruta de copiado
//   - relay.source_account_id: ID de la cuenta origen
//   - relay.dest_account_id: ID de la cuenta destino
//   - relay.position_id: ID de la posición origen
//   - relay.dest_position_id: ID de la posición copia en destino
//
// # Trading
//
//   - relay.symbol: Símbolo del instrumento (EURUSD, etc.)
//   - relay.direction: Dirección de la operación (BUY/SELL)
//   - relay.lot_size: Tamaño en lotes
//   - relay.price: Precio de la orden
//
// # Estado
//
//   - relay.status: Estado de la operación (success/rejected/timeout)
//   - relay.error_code: Código de error si aplica
//   - relay.reason: Razón de un rechazo del motor de filtros
//   - relay.component: Componente (coordinator/subscriber/dispatcher/reconciler)
//
// # Uso
//
//	import "github.com/Monkeyattack/fxtrueup-sub003/telemetry/semconv"
//
//	client.Info(ctx, "Trade event received",
//	    semconv.Relay.RouteID.String("route_1"),
//	    semconv.Relay.Symbol.String("EURUSD"),
//	    semconv.Relay.Direction.String("BUY"),
//	)
var Relay = relayAttributes{
	// Identificadores
	RouteID:         attribute.Key("relay.route_id"),
	SourceAccountID: attribute.Key("relay.source_account_id"),
	DestAccountID:   attribute.Key("relay.dest_account_id"),
	PositionID:      attribute.Key("relay.position_id"),
	DestPositionID:  attribute.Key("relay.dest_position_id"),

	// Trading
	Symbol:    attribute.Key("relay.symbol"),
	Direction: attribute.Key("relay.direction"),
	LotSize:   attribute.Key("relay.lot_size"),
	Price:     attribute.Key("relay.price"),
	Profit:    attribute.Key("relay.profit"),

	// Estado
	Status:    attribute.Key("relay.status"),
	ErrorCode: attribute.Key("relay.error_code"),
	Reason:    attribute.Key("relay.reason"),
	Component: attribute.Key("relay.component"),

	// Adicionales
	EventKind:   attribute.Key("relay.event_kind"),
	Attempt:     attribute.Key("relay.attempt"),
	Degraded:    attribute.Key("relay.degraded"),
	CloseReason: attribute.Key("relay.close_reason"),
	Region:      attribute.Key("relay.region"),
	SweepID:     attribute.Key("relay.sweep_id"),
}

type relayAttributes struct {
	// Identificadores
	RouteID         attribute.Key // ID de la ruta de copiado
	SourceAccountID attribute.Key // ID de la cuenta origen
	DestAccountID   attribute.Key // ID de la cuenta destino
	PositionID      attribute.Key // ID de la posición origen
	DestPositionID  attribute.Key // ID de la posición copia

	// Trading
	Symbol    attribute.Key // Símbolo del instrumento
	Direction attribute.Key // Dirección (BUY/SELL)
	LotSize   attribute.Key // Tamaño en lotes
	Price     attribute.Key // Precio de la orden
	Profit    attribute.Key // Profit realizado al cierre

	// Estado
	Status    attribute.Key // Estado (success/rejected/timeout)
	ErrorCode attribute.Key // Código de error
	Reason    attribute.Key // Razón de rechazo del motor de filtros
	Component attribute.Key // Componente (coordinator/subscriber/dispatcher/reconciler)

	// Adicionales
	EventKind   attribute.Key // Tipo de evento (OPENED/MODIFIED/CLOSED)
	Attempt     attribute.Key // Número de intento (reintentos)
	Degraded    attribute.Key // Sizing degradado por falta de equity
	CloseReason attribute.Key // Motivo del cierre (source_closed/reconcile)
	Region      attribute.Key // Región del pool de brokers
	SweepID     attribute.Key // ID de una corrida de reconciliación
}

// Values pre-definidos para atributos comunes

// ComponentValues valores válidos para relay.component
var ComponentValues = struct {
	Coordinator string
	Subscriber  string
	Dispatcher  string
	Reconciler  string
}{
	Coordinator: "coordinator",
	Subscriber:  "subscriber",
	Dispatcher:  "dispatcher",
	Reconciler:  "reconciler",
}

// DirectionValues valores válidos para relay.direction
var DirectionValues = struct {
	Buy  string
	Sell string
}{
	Buy:  "BUY",
	Sell: "SELL",
}

// StatusValues valores válidos para relay.status
var StatusValues = struct {
	Success  string
	Rejected string
	Timeout  string
	Skipped  string
}{
	Success:  "success",
	Rejected: "rejected",
	Timeout:  "timeout",
	Skipped:  "skipped",
}

// Helper functions para crear atributos comunes

// RouteAttributes crea un conjunto de atributos para una ruta.
//
// Example:
//
//	attrs := semconv.RouteAttributes("route_1", "src_123", "dst_456")
//	client.Info(ctx, "Route started", attrs...)
func RouteAttributes(routeID, sourceAccountID, destAccountID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		Relay.RouteID.String(routeID),
		Relay.SourceAccountID.String(sourceAccountID),
		Relay.DestAccountID.String(destAccountID),
	}
}

// TradeAttributes crea atributos para un evento de trade.
//
// Example:
//
//	attrs := semconv.TradeAttributes("45817113", "EURUSD", "BUY")
//	client.Info(ctx, "Trade event received", attrs...)
func TradeAttributes(positionID, symbol, direction string) []attribute.KeyValue {
	return []attribute.KeyValue{
		Relay.PositionID.String(positionID),
		Relay.Symbol.String(symbol),
		Relay.Direction.String(direction),
	}
}

// ErrorAttributes crea atributos para un error.
//
// Example:
//
//	attrs := semconv.ErrorAttributes("ERR_TIMEOUT", "timeout")
//	client.Error(ctx, "Dispatch failed", err, attrs...)
func ErrorAttributes(errorCode, status string) []attribute.KeyValue {
	return []attribute.KeyValue{
		Relay.ErrorCode.String(errorCode),
		Relay.Status.String(status),
	}
}
