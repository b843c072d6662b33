package internal

import (
	"context"
	"time"

	"github.com/Monkeyattack/fxtrueup-sub003/broker"
	"github.com/Monkeyattack/fxtrueup-sub003/domain"
	"github.com/Monkeyattack/fxtrueup-sub003/telemetry"
	"github.com/Monkeyattack/fxtrueup-sub003/telemetry/metricbundle"
	"github.com/Monkeyattack/fxtrueup-sub003/telemetry/semconv"
	"github.com/Monkeyattack/fxtrueup-sub003/utils"
)

// Razones de huérfano reportadas.
const (
	orphanReasonNoComment  = "no correlation comment"
	orphanReasonSourceGone = "source position gone"
)

// Reconciler repara posiciones destino huérfanas: las que quedaron sin
// mapping, típicamente por un reinicio entre el fill de la orden y la
// persistencia del mapping.
//
// Regla dura: nunca asociar sin el match del comentario de correlación
// contra una posición fuente viva. Un match ambiguo no se auto-repara,
// se reporta.
type Reconciler struct {
	cfg      *Config
	client   broker.Client
	mappings domain.MappingRepository
	orphans  domain.OrphanRepository
	stats    *StatsService
	log      *EventLog
	states   map[string]*SourceState
	workers  map[string]*DestWorker
	tel      *telemetry.Client
	metrics  *metricbundle.RelayMetrics
}

// NewReconciler crea el job de reconciliación.
func NewReconciler(cfg *Config, client broker.Client, mappings domain.MappingRepository, orphans domain.OrphanRepository, stats *StatsService, log *EventLog, states map[string]*SourceState, workers map[string]*DestWorker, tel *telemetry.Client, metrics *metricbundle.RelayMetrics) *Reconciler {
	return &Reconciler{
		cfg:      cfg,
		client:   client,
		mappings: mappings,
		orphans:  orphans,
		stats:    stats,
		log:      log,
		states:   states,
		workers:  workers,
		tel:      tel,
		metrics:  metrics,
	}
}

// RunOnce barre todas las rutas habilitadas. Corre como tarea de baja
// prioridad: toma el lock del destino antes de escribir, así nunca
// corre contra la ejecución en vivo.
func (r *Reconciler) RunOnce(ctx context.Context) {
	ctx = telemetry.AppendCommonAttrs(ctx,
		semconv.Relay.Component.String(semconv.ComponentValues.Reconciler),
		semconv.Relay.SweepID.String(utils.GenerateUUIDv7()))

	routes, errs := r.cfg.EnabledRoutes()
	for _, err := range errs {
		r.tel.Error(ctx, "skipping misconfigured route", err)
	}

	for _, route := range routes {
		if ctx.Err() != nil {
			return
		}
		r.reconcileRoute(ctx, route)
	}
}

func (r *Reconciler) reconcileRoute(ctx context.Context, route *domain.Route) {
	ctx = telemetry.AppendEventAttrs(ctx,
		semconv.Relay.RouteID.String(route.ID),
		semconv.Relay.DestAccountID.String(route.DestAccountID),
	)

	if worker, ok := r.workers[route.DestAccountID]; ok {
		lock := worker.Lock()
		lock.Lock()
		defer lock.Unlock()
	}

	destRegion := r.cfg.Region(route.DestAccountID)
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.BrokerTimeout)
	destPositions, err := r.client.GetPositions(callCtx, route.DestAccountID, destRegion)
	cancel()
	if err != nil {
		r.tel.Warn(ctx, "failed to fetch destination positions, skipping route",
			semconv.Relay.ErrorCode.String(string(domain.CodeOf(err))))
		return
	}

	sourceOpen, ok := r.sourceSnapshot(ctx, route.SourceAccountID)
	if !ok {
		r.tel.Warn(ctx, "source snapshot unavailable, skipping route")
		return
	}

	openDest := make(map[string]*broker.Position, len(destPositions))
	for _, pos := range destPositions {
		openDest[pos.ID] = pos
		r.repairPosition(ctx, route, pos, sourceOpen)
	}

	r.closeStaleMappings(ctx, route, destRegion, sourceOpen, openDest)
}

// sourceSnapshot usa el estado en memoria del subscriber cuando está
// sincronizado; si no, consulta al broker directamente.
func (r *Reconciler) sourceSnapshot(ctx context.Context, sourceAccountID string) (map[string]domain.OpenPosition, bool) {
	if state, ok := r.states[sourceAccountID]; ok && state.Synced() {
		snapshot := make(map[string]domain.OpenPosition)
		for _, pos := range state.OpenPositions() {
			snapshot[pos.PositionID] = pos
		}
		return snapshot, true
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.BrokerTimeout)
	defer cancel()
	positions, err := r.client.GetPositions(callCtx, sourceAccountID, r.cfg.Region(sourceAccountID))
	if err != nil {
		return nil, false
	}

	snapshot := make(map[string]domain.OpenPosition, len(positions))
	for _, pos := range positions {
		snapshot[pos.ID] = domain.OpenPosition{
			PositionID: pos.ID,
			Symbol:     pos.Symbol,
			Direction:  pos.Direction,
			Volume:     pos.Volume,
			OpenPrice:  pos.OpenPrice,
			OpenTime:   pos.OpenTime,
			Comment:    pos.Comment,
		}
	}
	return snapshot, true
}

// repairPosition reconstruye el mapping de una posición destino sin
// mapping, o la reporta como huérfana.
func (r *Reconciler) repairPosition(ctx context.Context, route *domain.Route, pos *broker.Position, sourceOpen map[string]domain.OpenPosition) {
	existing, err := r.mappings.FindByDestPosition(ctx, route.DestAccountID, pos.ID)
	if err != nil {
		r.tel.Warn(ctx, "mapping lookup failed during reconcile",
			semconv.Relay.DestPositionID.String(pos.ID))
		return
	}
	if existing != nil {
		return
	}

	sourcePositionID, ok := domain.ParseCopyComment(pos.Comment)
	if !ok {
		r.recordOrphan(ctx, route, pos, orphanReasonNoComment)
		return
	}

	sourcePos, alive := sourceOpen[sourcePositionID]
	if !alive {
		r.recordOrphan(ctx, route, pos, orphanReasonSourceGone)
		return
	}

	mapping := &domain.PositionMapping{
		SourceAccountID:  route.SourceAccountID,
		SourcePositionID: sourcePositionID,
		DestAccountID:    route.DestAccountID,
		DestPositionID:   pos.ID,
		SourceSymbol:     sourcePos.Symbol,
		DestSymbol:       pos.Symbol,
		SourceVolume:     sourcePos.Volume,
		DestVolume:       pos.Volume,
		OpenTime:         pos.OpenTime,
		SourceOpenPrice:  sourcePos.OpenPrice,
		DestOpenPrice:    pos.OpenPrice,
		Comment:          pos.Comment,
	}
	if err := r.mappings.Upsert(ctx, mapping); err != nil {
		r.tel.Error(ctx, "failed to persist repaired mapping", err,
			semconv.Relay.DestPositionID.String(pos.ID))
		return
	}

	r.metrics.RecordReconcileRepaired(ctx, semconv.Relay.RouteID.String(route.ID))
	r.tel.Info(ctx, "mapping repaired from correlation comment",
		semconv.Relay.PositionID.String(sourcePositionID),
		semconv.Relay.DestPositionID.String(pos.ID))
}

// closeStaleMappings reintenta cierres pendientes: mappings vivos cuya
// posición fuente ya no existe. También marca como cerrados los
// mappings cuya posición destino desapareció (cierre manual en
// destino), para que no ocupen el cupo de posiciones abiertas.
func (r *Reconciler) closeStaleMappings(ctx context.Context, route *domain.Route, destRegion string, sourceOpen map[string]domain.OpenPosition, openDest map[string]*broker.Position) {
	live, err := r.mappings.LiveByDest(ctx, route.DestAccountID)
	if err != nil {
		r.tel.Warn(ctx, "failed to list live mappings during reconcile")
		return
	}

	for _, mapping := range live {
		if mapping.SourceAccountID != route.SourceAccountID {
			continue
		}
		if _, alive := sourceOpen[mapping.SourcePositionID]; alive {
			continue
		}

		if _, destAlive := openDest[mapping.DestPositionID]; !destAlive {
			if err := r.mappings.MarkClosed(ctx, mapping.SourceAccountID, mapping.SourcePositionID, mapping.DestAccountID, time.Now().UTC(), "dest_closed_externally"); err != nil {
				r.tel.Warn(ctx, "failed to mark externally closed mapping",
					semconv.Relay.DestPositionID.String(mapping.DestPositionID))
			}
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, r.cfg.BrokerTimeout)
		result, err := r.client.ClosePosition(callCtx, route.DestAccountID, destRegion, mapping.DestPositionID)
		cancel()
		if err != nil {
			// Se reintenta en el próximo barrido
			r.tel.Warn(ctx, "pending close retry failed",
				semconv.Relay.DestPositionID.String(mapping.DestPositionID),
				semconv.Relay.ErrorCode.String(string(domain.CodeOf(err))))
			continue
		}

		if err := r.mappings.MarkClosed(ctx, mapping.SourceAccountID, mapping.SourcePositionID, mapping.DestAccountID, time.Now().UTC(), CloseReasonReconcile); err != nil {
			r.tel.Warn(ctx, "failed to mark reconciled mapping closed",
				semconv.Relay.DestPositionID.String(mapping.DestPositionID))
			continue
		}
		if err := r.stats.RecordProfit(ctx, route.ID, result.Profit, time.Now().UTC()); err != nil {
			r.tel.Warn(ctx, "failed to update route profit stats")
		}
		r.metrics.RecordTradeClosed(ctx, semconv.Relay.RouteID.String(route.ID))
		r.appendLog(ctx, &LogRecord{
			Event:         LogEventClosed,
			RouteID:       route.ID,
			SourceTradeID: mapping.SourcePositionID,
			Symbol:        mapping.DestSymbol,
			SourceVolume:  mapping.SourceVolume,
			DestVolume:    mapping.DestVolume,
			Profit:        result.Profit,
		})
	}
}

func (r *Reconciler) recordOrphan(ctx context.Context, route *domain.Route, pos *broker.Position, reason string) {
	orphan := &domain.OrphanPosition{
		RouteID:        route.ID,
		DestAccountID:  route.DestAccountID,
		DestPositionID: pos.ID,
		Symbol:         pos.Symbol,
		Comment:        pos.Comment,
		Reason:         reason,
		DetectedAt:     time.Now().UTC(),
	}
	if err := r.orphans.Record(ctx, orphan); err != nil {
		r.tel.Error(ctx, "failed to record orphan position", err,
			semconv.Relay.DestPositionID.String(pos.ID))
		return
	}

	r.metrics.RecordReconcileOrphan(ctx, semconv.Relay.RouteID.String(route.ID))
	r.tel.Warn(ctx, "orphan destination position flagged for review",
		semconv.Relay.DestPositionID.String(pos.ID),
		semconv.Relay.Reason.String(reason))
}

func (r *Reconciler) appendLog(ctx context.Context, record *LogRecord) {
	if err := r.log.Append(record); err != nil {
		r.tel.Warn(ctx, "failed to append event log record")
	}
}
