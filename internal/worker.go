package internal

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Monkeyattack/fxtrueup-sub003/broker"
	"github.com/Monkeyattack/fxtrueup-sub003/domain"
	"github.com/Monkeyattack/fxtrueup-sub003/internal/filterengine"
	"github.com/Monkeyattack/fxtrueup-sub003/telemetry"
	"github.com/Monkeyattack/fxtrueup-sub003/telemetry/metricbundle"
	"github.com/Monkeyattack/fxtrueup-sub003/telemetry/semconv"
)

const workerQueueSize = 256

// workItem es un evento ya ruteado, listo para el pipeline
// filtro → sizing → ejecución del destino.
type workItem struct {
	route *domain.Route
	rules *domain.RuleSet
	event domain.TradeEvent
}

// DestWorker serializa todo el trabajo contra una cuenta destino. Dos
// trades hacia el mismo destino nunca intercalan submissions (evita la
// carrera de margin check); destinos distintos procesan en paralelo.
type DestWorker struct {
	destAccountID string
	destRegion    string

	queue   chan workItem
	mu      sync.Mutex // compartido con la reconciliación
	limiter *rate.Limiter

	client        broker.Client
	dispatcher    *Dispatcher
	mappings      domain.MappingRepository
	stats         *StatsService
	log           *EventLog
	states        map[string]*SourceState
	brokerTimeout time.Duration

	tel     *telemetry.Client
	metrics *metricbundle.RelayMetrics
}

// NewDestWorker crea el worker de una cuenta destino.
func NewDestWorker(cfg *Config, destAccountID string, client broker.Client, dispatcher *Dispatcher, mappings domain.MappingRepository, stats *StatsService, log *EventLog, states map[string]*SourceState, tel *telemetry.Client, metrics *metricbundle.RelayMetrics) *DestWorker {
	return &DestWorker{
		destAccountID: destAccountID,
		destRegion:    cfg.Region(destAccountID),
		queue:         make(chan workItem, workerQueueSize),
		limiter:       rate.NewLimiter(rate.Limit(cfg.OrderRatePerSecond), cfg.OrderBurst),
		client:        client,
		dispatcher:    dispatcher,
		mappings:      mappings,
		stats:         stats,
		log:           log,
		states:        states,
		brokerTimeout: cfg.BrokerTimeout,
		tel:           tel,
		metrics:       metrics,
	}
}

// Lock retorna el lock por destino. La reconciliación lo toma antes de
// escribir para no correr contra la ejecución en vivo.
func (w *DestWorker) Lock() *sync.Mutex {
	return &w.mu
}

// Enqueue encola un evento. Cola llena significa que el destino está
// atascado; el evento se descarta con warning en vez de frenar a los
// demás destinos.
func (w *DestWorker) Enqueue(ctx context.Context, item workItem) {
	select {
	case w.queue <- item:
	default:
		w.tel.Warn(ctx, "destination queue full, dropping event",
			semconv.Relay.DestAccountID.String(w.destAccountID),
			semconv.Relay.PositionID.String(item.event.SourcePositionID))
	}
}

// Run procesa la cola hasta que el contexto muere.
func (w *DestWorker) Run(ctx context.Context) {
	ctx = telemetry.AppendCommonAttrs(ctx,
		semconv.Relay.Component.String(semconv.ComponentValues.Dispatcher),
		semconv.Relay.DestAccountID.String(w.destAccountID),
	)

	for {
		select {
		case <-ctx.Done():
			return
		case item := <-w.queue:
			w.process(ctx, item)
		}
	}
}

func (w *DestWorker) process(ctx context.Context, item workItem) {
	w.mu.Lock()
	defer w.mu.Unlock()

	event := item.event
	ctx = telemetry.AppendEventAttrs(ctx,
		semconv.Relay.RouteID.String(item.route.ID),
		semconv.Relay.PositionID.String(event.SourcePositionID),
		semconv.Relay.Symbol.String(event.Symbol),
	)

	switch event.Kind {
	case domain.EventClosed:
		if err := w.dispatcher.CloseCopy(ctx, item.route, w.destRegion, &event); err != nil {
			// El mapping quedó vivo; la reconciliación reintenta
			w.tel.Warn(ctx, "close deferred to reconciliation")
		}
		return
	case domain.EventModified:
		// Cambios de volumen/SL/TP en la fuente no se replican
		w.tel.Debug(ctx, "source position modified, no action")
		return
	case domain.EventOpened:
	default:
		return
	}

	w.appendLog(ctx, &LogRecord{
		Event:         LogEventDetected,
		RouteID:       item.route.ID,
		SourceTradeID: event.SourcePositionID,
		Symbol:        event.Symbol,
		SourceVolume:  event.Volume,
	})

	decision := w.evaluate(ctx, item)
	if !decision.Accept {
		reason := ""
		if len(decision.Reasons) > 0 {
			reason = decision.Reasons[0]
		}
		w.metrics.RecordTradeRejected(ctx, reason, semconv.Relay.RouteID.String(item.route.ID))
		if err := w.stats.RecordRejected(ctx, item.route.ID, event.Time); err != nil {
			w.tel.Warn(ctx, "failed to update route stats")
		}
		w.appendLog(ctx, &LogRecord{
			Event:         LogEventRejected,
			RouteID:       item.route.ID,
			SourceTradeID: event.SourcePositionID,
			Symbol:        event.Symbol,
			SourceVolume:  event.Volume,
			Reasons:       decision.Reasons,
		})
		w.tel.Info(ctx, "trade rejected by filter engine",
			semconv.Relay.Reason.String(reason))
		return
	}

	sized, err := w.size(ctx, item)
	if err != nil {
		w.tel.Error(ctx, "sizing failed", err)
		return
	}
	if sized.Degraded {
		w.tel.Warn(ctx, "sizing degraded, using raw source volume",
			semconv.Relay.Degraded.Bool(true),
			semconv.Relay.LotSize.Float64(sized.Volume))
	}
	w.appendLog(ctx, &LogRecord{
		Event:         LogEventSized,
		RouteID:       item.route.ID,
		SourceTradeID: event.SourcePositionID,
		Symbol:        event.Symbol,
		SourceVolume:  event.Volume,
		DestVolume:    sized.Volume,
	})

	if err := w.limiter.Wait(ctx); err != nil {
		return
	}

	if _, err := w.dispatcher.CopyTrade(ctx, item.route, w.destRegion, &event, sized.Volume); err != nil {
		w.tel.Error(ctx, "trade dispatch failed", err,
			semconv.Relay.ErrorCode.String(string(domain.CodeOf(err))))
	}
}

// evaluate arma el snapshot de inputs y corre el motor de filtros.
func (w *DestWorker) evaluate(ctx context.Context, item workItem) *filterengine.Decision {
	event := item.event

	stats, err := w.stats.Today(ctx, item.route.ID, event.Time)
	if err != nil {
		w.tel.Warn(ctx, "failed to load route stats, evaluating without them")
	}

	var recent []domain.SourceTrade
	var openSource []domain.OpenPosition
	var baseVolume float64
	if state, ok := w.states[event.SourceAccountID]; ok {
		recent = state.RecentTrades()
		openSource = state.OpenPositions()
		baseVolume = state.BaseVolume(event.Symbol)
	}

	openDest := w.openDestPositions(ctx)

	return filterengine.Evaluate(filterengine.Input{
		Event:               &event,
		Rules:               item.rules,
		Stats:               stats,
		RecentSourceTrades:  recent,
		OpenSourcePositions: openSource,
		OpenDestPositions:   openDest,
		BaseVolume:          baseVolume,
	})
}

// openDestPositions deriva el set vivo del destino de los mappings
// vivos; evita una llamada de red al broker por cada evento.
func (w *DestWorker) openDestPositions(ctx context.Context) []domain.OpenPosition {
	live, err := w.mappings.LiveByDest(ctx, w.destAccountID)
	if err != nil {
		w.tel.Warn(ctx, "failed to load live mappings for position cap")
		return nil
	}

	positions := make([]domain.OpenPosition, 0, len(live))
	for _, m := range live {
		positions = append(positions, domain.OpenPosition{
			PositionID: m.DestPositionID,
			Symbol:     m.DestSymbol,
			Volume:     m.DestVolume,
			OpenPrice:  m.DestOpenPrice,
			OpenTime:   m.OpenTime,
			Comment:    m.Comment,
		})
	}
	return positions
}

func (w *DestWorker) size(ctx context.Context, item workItem) (*domain.SizingResult, error) {
	event := item.event

	var sourceEquity, destEquity float64
	if item.rules.SizingMode == domain.SizingProportional {
		if state, ok := w.states[event.SourceAccountID]; ok {
			sourceEquity = state.Equity()
		}
		destEquity = w.destEquity(ctx)
	}

	return domain.ComputeVolume(item.rules, event.Volume, sourceEquity, destEquity, domain.DefaultVolumeSpec())
}

// destEquity lee el equity del destino; en fallo retorna cero y el
// sizing proporcional degrada al volumen crudo.
func (w *DestWorker) destEquity(ctx context.Context) float64 {
	callCtx, cancel := context.WithTimeout(ctx, w.brokerTimeout)
	defer cancel()

	info, err := w.client.GetAccountInfo(callCtx, w.destAccountID, w.destRegion)
	if err != nil {
		w.tel.Warn(ctx, "failed to read destination equity",
			semconv.Relay.ErrorCode.String(string(domain.CodeOf(err))))
		return 0
	}
	return info.Equity
}

func (w *DestWorker) appendLog(ctx context.Context, record *LogRecord) {
	if err := w.log.Append(record); err != nil {
		w.tel.Warn(ctx, "failed to append event log record")
	}
}
