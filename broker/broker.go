// Package broker define el contrato con la capa de conexión de
// brokerage (el pool de conexiones externo).
//
// El relay CONSUME esta capa, nunca la implementa: el protocolo de wire
// del broker vive en el servicio de pool. Aquí solo hay tipos neutrales
// y un cliente JSON/HTTP + WebSocket hacia ese servicio.
package broker

import (
	"context"
	"time"

	"github.com/Monkeyattack/fxtrueup-sub003/domain"
)

// AccountInfo es el snapshot de una cuenta.
type AccountInfo struct {
	Balance  float64 `json:"balance"`
	Equity   float64 `json:"equity"`
	Currency string  `json:"currency"`
}

// Position es una posición viva reportada por el broker.
type Position struct {
	ID        string                `json:"id"`
	Symbol    string                `json:"symbol"`
	Direction domain.TradeDirection `json:"direction"`
	Volume    float64               `json:"volume"`
	OpenPrice float64               `json:"open_price"`
	OpenTime  time.Time             `json:"open_time"`
	Comment   string                `json:"comment,omitempty"`
	Profit    float64               `json:"profit"`
}

// Deal es una operación del historial de la cuenta.
type Deal struct {
	ID         string                `json:"id"`
	PositionID string                `json:"position_id"`
	Symbol     string                `json:"symbol"`
	Direction  domain.TradeDirection `json:"direction"`
	Volume     float64               `json:"volume"`
	Price      float64               `json:"price"`
	Profit     float64               `json:"profit"`
	Time       time.Time             `json:"time"`
	Entry      bool                  `json:"entry"` // true = deal de apertura
}

// OrderRequest es una orden de mercado hacia una cuenta destino.
type OrderRequest struct {
	Symbol  string                `json:"symbol"`
	Action  domain.TradeDirection `json:"action"`
	Volume  float64               `json:"volume"`
	Comment string                `json:"comment"`
}

// OrderResult es el resultado de una ejecución exitosa.
type OrderResult struct {
	OrderID    string  `json:"order_id"`
	PositionID string  `json:"position_id"`
	Price      float64 `json:"price"`
}

// CloseResult es el resultado del cierre de una posición.
type CloseResult struct {
	Profit float64 `json:"profit"`
}

// Client es la superficie que el pool de conexiones expone al relay.
//
// Todas las llamadas son de red; el caller envuelve con timeouts (15s
// por defecto) para que una llamada colgada no bloquee la cola de un
// destino.
type Client interface {
	GetAccountInfo(ctx context.Context, accountID, region string) (*AccountInfo, error)
	GetPositions(ctx context.Context, accountID, region string) ([]*Position, error)
	GetTradeHistory(ctx context.Context, accountID, region string, days, limit int) ([]*Deal, error)
	ExecuteTrade(ctx context.Context, accountID, region string, req *OrderRequest) (*OrderResult, error)
	ClosePosition(ctx context.Context, accountID, region, positionID string) (*CloseResult, error)

	// Subscribe abre una sesión de streaming sincronizada con la
	// cuenta. La sesión entrega eventos connected/disconnected/
	// positions-updated/deal-added hasta que se cierra.
	Subscribe(ctx context.Context, accountID, region string) (StreamSession, error)
}

// EventType clasifica un StreamEvent.
type EventType string

const (
	EventConnected        EventType = "CONNECTED"
	EventDisconnected     EventType = "DISCONNECTED"
	EventPositionsUpdated EventType = "POSITIONS_UPDATED"
	EventDealAdded        EventType = "DEAL_ADDED"
	EventInfoUpdated      EventType = "INFO_UPDATED" // keepalive del servidor
)

// StreamEvent es una notificación cruda del broker.
//
// POSITIONS_UPDATED siempre trae el set COMPLETO de posiciones vivas;
// el subscriber diffea contra su último set conocido.
type StreamEvent struct {
	Type      EventType   `json:"type"`
	Positions []*Position `json:"positions,omitempty"`
	Deal      *Deal       `json:"deal,omitempty"`
	At        time.Time   `json:"at"`
}

// StreamSession es una sesión de streaming viva con una cuenta.
type StreamSession interface {
	// Events retorna el canal de eventos. Se cierra cuando la sesión
	// muere; el subscriber entonces reconecta con backoff.
	Events() <-chan StreamEvent
	Close() error
}
