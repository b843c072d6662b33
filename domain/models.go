// Package domain provee modelos de dominio y lógica de negocio del relay.
package domain

import (
	"time"
)

// TradeDirection representa la dirección de una operación.
type TradeDirection string

const (
	DirectionBuy  TradeDirection = "BUY"
	DirectionSell TradeDirection = "SELL"
)

// EventKind representa el tipo de un TradeEvent.
type EventKind string

const (
	EventOpened   EventKind = "OPENED"   // Nueva posición detectada en la fuente
	EventModified EventKind = "MODIFIED" // Cambio de volumen/SL/TP en la fuente
	EventClosed   EventKind = "CLOSED"   // La posición desapareció del set vivo
)

// TradeEvent es la representación normalizada de una ocurrencia en una
// cuenta fuente. Inmutable una vez emitido; varios eventos pueden
// referenciar el mismo SourcePositionID a lo largo de su vida.
type TradeEvent struct {
	SourceAccountID  string         `json:"source_account_id"`
	SourcePositionID string         `json:"source_position_id"`
	Symbol           string         `json:"symbol"`
	Direction        TradeDirection `json:"direction"`
	Volume           float64        `json:"volume"`
	Price            float64        `json:"price"`
	Time             time.Time      `json:"time"`
	Kind             EventKind      `json:"kind"`
	Profit           float64        `json:"profit,omitempty"` // Solo para CLOSED
}

// Route es una relación configurada fuente→destino con un RuleSet asociado.
// Creada/editada por un operador; de solo lectura para el relay en runtime.
type Route struct {
	ID                    string `json:"id"`
	SourceAccountID       string `json:"source_account_id"`
	DestAccountID         string `json:"dest_account_id"`
	DestRegion            string `json:"dest_region"`
	RuleSetID             string `json:"rule_set_id"`
	Enabled               bool   `json:"enabled"`
	CopyExistingPositions bool   `json:"copy_existing_positions"`
}

// SizingMode define cómo se calcula el volumen destino.
type SizingMode string

const (
	SizingFixed        SizingMode = "FIXED"        // Lote fijo, desacoplado de la fuente
	SizingProportional SizingMode = "PROPORTIONAL" // Escalado por ratio de equity
)

// RuleSet es la política de sizing y riesgo de una ruta. Inmutable por
// evaluación; recargable entre corridas.
type RuleSet struct {
	ID                   string        `json:"id"`
	SizingMode           SizingMode    `json:"sizing_mode"`
	FixedLotSize         float64       `json:"fixed_lot_size,omitempty"`
	MaxOpenPositions     int           `json:"max_open_positions"`
	MinTimeBetweenTrades time.Duration `json:"min_time_between_trades"`
	MaxDailyTrades       int           `json:"max_daily_trades"`
	DailyLossLimit       float64       `json:"daily_loss_limit"`
	AllowedHours         []int         `json:"allowed_hours"` // Horas UTC 0..23; vacío = todas
	PriceRangeFilterPips float64       `json:"price_range_filter_pips"`
	MartingaleDetection  bool          `json:"martingale_detection"`
	GridDetection        bool          `json:"grid_detection"`
}

// AllowsHour indica si la hora UTC está dentro de la ventana de trading.
//
// Un RuleSet sin horas configuradas permite operar a cualquier hora.
func (r *RuleSet) AllowsHour(hour int) bool {
	if len(r.AllowedHours) == 0 {
		return true
	}
	for _, h := range r.AllowedHours {
		if h == hour {
			return true
		}
	}
	return false
}

// OpenPosition es una posición viva en una cuenta (fuente o destino),
// reducida a los campos que usan el filtro y la reconciliación.
type OpenPosition struct {
	PositionID string         `json:"position_id"`
	Symbol     string         `json:"symbol"`
	Direction  TradeDirection `json:"direction"`
	Volume     float64        `json:"volume"`
	OpenPrice  float64        `json:"open_price"`
	OpenTime   time.Time      `json:"open_time"`
	Comment    string         `json:"comment,omitempty"`
}

// SourceTrade es un deal cerrado del historial de la cuenta fuente.
// Alimenta la detección de martingala.
type SourceTrade struct {
	Symbol string    `json:"symbol"`
	Volume float64   `json:"volume"`
	Profit float64   `json:"profit"`
	Time   time.Time `json:"time"`
}

// RouteStats son los contadores mutables por ruta, particionados por día
// UTC. Es el único estado compartido mutable por ruta y solo lo escribe
// el worker del destino correspondiente.
type RouteStats struct {
	RouteID        string    `json:"route_id"`
	Date           string    `json:"date"` // YYYY-MM-DD en UTC
	TradesCopied   int       `json:"trades_copied"`
	TradesRejected int       `json:"trades_rejected"`
	DailyProfit    float64   `json:"daily_profit"`
	DailyLoss      float64   `json:"daily_loss"`
	LastTradeTime  time.Time `json:"last_trade_time"`
}

// OrphanPosition es una posición destino sin mapping recuperable.
// Se reporta para revisión manual, nunca se repara adivinando.
type OrphanPosition struct {
	RouteID        string    `json:"route_id"`
	DestAccountID  string    `json:"dest_account_id"`
	DestPositionID string    `json:"dest_position_id"`
	Symbol         string    `json:"symbol"`
	Comment        string    `json:"comment"`
	Reason         string    `json:"reason"`
	DetectedAt     time.Time `json:"detected_at"`
}
