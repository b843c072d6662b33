// Package filterengine implementa el motor de filtros y detección de
// patrones del relay.
//
// Evaluate es una función pura y determinista: mismos inputs, misma
// decisión. Eso permite reproducir el filtrado offline contra datos
// históricos con paridad exacta respecto al filtrado en vivo.
package filterengine

import (
	"math"
	"strings"

	"github.com/Monkeyattack/fxtrueup-sub003/domain"
)

// Razones de rechazo. Primer check que falla gana (short-circuit).
const (
	ReasonMaxOpenPositions = "Max open positions reached"
	ReasonCooldown         = "Too soon after last trade"
	ReasonDailyTradeLimit  = "Daily trade limit reached"
	ReasonDailyLossLimit   = "Daily loss limit reached"
	ReasonOutsideHours     = "Outside allowed trading hours"
	ReasonMartingale       = "Martingale pattern detected"
	ReasonGrid             = "Grid pattern detected"
)

// martingaleLookback es la ventana de deals recientes que inspecciona la
// detección de martingala.
const martingaleLookback = 5

// Input agrupa todo lo que Evaluate necesita. El engine no consulta
// ningún estado externo; el caller arma el snapshot.
type Input struct {
	Event *domain.TradeEvent
	Rules *domain.RuleSet
	Stats *domain.RouteStats

	// RecentSourceTrades son los deals cerrados de la cuenta fuente,
	// ordenados del más reciente al más antiguo.
	RecentSourceTrades []domain.SourceTrade

	// OpenSourcePositions son las posiciones vivas de la fuente
	// (detección de grid).
	OpenSourcePositions []domain.OpenPosition

	// OpenDestPositions son las posiciones vivas del destino
	// (tope de posiciones abiertas).
	OpenDestPositions []domain.OpenPosition

	// BaseVolume es el primer lot size visto para este símbolo en la
	// fuente. Cero cuando todavía no hay base registrada.
	BaseVolume float64
}

// Decision es el resultado de una evaluación.
type Decision struct {
	Accept  bool
	Reasons []string
}

func reject(reason string) *Decision {
	return &Decision{Accept: false, Reasons: []string{reason}}
}

// Evaluate aplica los checks del RuleSet en orden de costo: topes duros
// primero, detección de patrones al final. El primer rechazo corta la
// evaluación.
func Evaluate(in Input) *Decision {
	event := in.Event
	rules := in.Rules
	stats := in.Stats

	// 1. Tope de posiciones abiertas en destino
	if rules.MaxOpenPositions > 0 && len(in.OpenDestPositions) >= rules.MaxOpenPositions {
		return reject(ReasonMaxOpenPositions)
	}

	// 2. Cooldown desde el último trade copiado
	if rules.MinTimeBetweenTrades > 0 && stats != nil && !stats.LastTradeTime.IsZero() {
		if event.Time.Sub(stats.LastTradeTime) < rules.MinTimeBetweenTrades {
			return reject(ReasonCooldown)
		}
	}

	// 3. Tope diario de trades
	if rules.MaxDailyTrades > 0 && stats != nil && stats.TradesCopied >= rules.MaxDailyTrades {
		return reject(ReasonDailyTradeLimit)
	}

	// 4. Límite de pérdida diaria
	if rules.DailyLossLimit > 0 && stats != nil && stats.DailyLoss >= rules.DailyLossLimit {
		return reject(ReasonDailyLossLimit)
	}

	// 5. Ventana horaria UTC
	if !rules.AllowsHour(event.Time.UTC().Hour()) {
		return reject(ReasonOutsideHours)
	}

	// 6. Martingala
	if rules.MartingaleDetection && detectMartingale(event, in.RecentSourceTrades, in.BaseVolume) {
		return reject(ReasonMartingale)
	}

	// 7. Grid
	if rules.GridDetection && detectGrid(event, in.OpenSourcePositions, rules.PriceRangeFilterPips) {
		return reject(ReasonGrid)
	}

	return &Decision{Accept: true}
}

// detectMartingale marca escalamiento de tamaño tras una pérdida, la
// firma del recovery trading martingala. Heurística tuneable: puede dar
// falsos positivos en estrategias que escalan legítimamente.
//
// Dispara si el volumen supera el primer lot visto para el símbolo, o si
// alguno de los últimos deals del mismo símbolo fue pérdida y este trade
// lo supera en volumen.
func detectMartingale(event *domain.TradeEvent, recent []domain.SourceTrade, baseVolume float64) bool {
	if baseVolume > 0 && event.Volume > baseVolume {
		return true
	}

	seen := 0
	for _, trade := range recent {
		if trade.Symbol != event.Symbol {
			continue
		}
		if trade.Profit < 0 && event.Volume > trade.Volume {
			return true
		}
		seen++
		if seen >= martingaleLookback {
			break
		}
	}
	return false
}

// detectGrid marca entradas apiladas: alguna OTRA posición fuente viva
// del mismo símbolo con precio de entrada dentro del rango configurado.
// El snapshot de la fuente ya contiene la posición del propio evento
// cuando éste llega al worker; se excluye para no matchearla a 0 pips.
func detectGrid(event *domain.TradeEvent, openSource []domain.OpenPosition, rangePips float64) bool {
	if rangePips <= 0 {
		return false
	}

	priceRange := rangePips * PipSize(event.Symbol)
	for _, pos := range openSource {
		if pos.PositionID == event.SourcePositionID || pos.Symbol != event.Symbol {
			continue
		}
		if math.Abs(pos.OpenPrice-event.Price) <= priceRange {
			return true
		}
	}
	return false
}

// PipSize retorna el tamaño de pip para un símbolo: 0.01 para pares JPY,
// 0.0001 para el resto.
func PipSize(symbol string) float64 {
	if strings.Contains(strings.ToUpper(symbol), "JPY") {
		return 0.01
	}
	return 0.0001
}
