package internal

import (
	"context"
	"sync"
	"time"

	"github.com/Monkeyattack/fxtrueup-sub003/broker"
	"github.com/Monkeyattack/fxtrueup-sub003/domain"
	"github.com/Monkeyattack/fxtrueup-sub003/telemetry"
	"github.com/Monkeyattack/fxtrueup-sub003/telemetry/metricbundle"
	"github.com/Monkeyattack/fxtrueup-sub003/telemetry/semconv"
)

const eventChannelSize = 1024

// Coordinator es el dueño del set de rutas habilitadas: comparte un
// subscriber por cuenta fuente, serializa el despacho por cuenta
// destino y orquesta la reconciliación, el status feed y el shutdown
// ordenado.
type Coordinator struct {
	cfg     *Config
	client  broker.Client
	factory domain.RepositoryFactory
	log     *EventLog

	stats      *StatsService
	dispatcher *Dispatcher
	reconciler *Reconciler
	status     *StatusWriter

	routes         []*domain.Route
	routesBySource map[string][]*domain.Route
	states         map[string]*SourceState
	subscribers    map[string]*Subscriber
	workers        map[string]*DestWorker
	events         chan domain.TradeEvent

	tel     *telemetry.Client
	metrics *metricbundle.RelayMetrics

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCoordinator valida las rutas y arma el runtime completo. Una ruta
// mal configurada falla ruidosamente y se excluye; las demás arrancan.
func NewCoordinator(ctx context.Context, cfg *Config, client broker.Client, factory domain.RepositoryFactory, log *EventLog, tel *telemetry.Client, metrics *metricbundle.RelayMetrics) (*Coordinator, error) {
	routes, errs := cfg.EnabledRoutes()
	for _, err := range errs {
		tel.Error(ctx, "route startup failed, continuing without it", err)
	}
	if len(routes) == 0 {
		return nil, domain.NewError(domain.ErrInvalidRoute, "no valid enabled routes in config")
	}

	c := &Coordinator{
		cfg:            cfg,
		client:         client,
		factory:        factory,
		log:            log,
		routes:         routes,
		routesBySource: make(map[string][]*domain.Route),
		states:         make(map[string]*SourceState),
		subscribers:    make(map[string]*Subscriber),
		workers:        make(map[string]*DestWorker),
		events:         make(chan domain.TradeEvent, eventChannelSize),
		tel:            tel,
		metrics:        metrics,
	}

	c.stats = NewStatsService(factory.StatsRepository())
	c.dispatcher = NewDispatcher(client, factory.MappingRepository(), c.stats, log, cfg.BrokerTimeout, tel, metrics)

	for _, route := range routes {
		c.routesBySource[route.SourceAccountID] = append(c.routesBySource[route.SourceAccountID], route)

		if _, ok := c.states[route.SourceAccountID]; !ok {
			state := NewSourceState(route.SourceAccountID)
			c.states[route.SourceAccountID] = state
			c.subscribers[route.SourceAccountID] = NewSubscriber(
				route.SourceAccountID,
				cfg.Region(route.SourceAccountID),
				client,
				state,
				c.events,
				cfg.BrokerTimeout,
				tel,
				metrics,
			)
		}

		if _, ok := c.workers[route.DestAccountID]; !ok {
			c.workers[route.DestAccountID] = NewDestWorker(
				cfg,
				route.DestAccountID,
				client,
				c.dispatcher,
				factory.MappingRepository(),
				c.stats,
				log,
				c.states,
				tel,
				metrics,
			)
		}
	}

	c.reconciler = NewReconciler(cfg, client, factory.MappingRepository(), factory.OrphanRepository(), c.stats, log, c.states, c.workers, tel, metrics)
	c.status = NewStatusWriter(cfg, c.stats, c.states, tel)

	return c, nil
}

// Start lanza subscribers, workers, el loop de despacho, la
// reconciliación periódica y el status feed.
func (c *Coordinator) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	runCtx = telemetry.AppendCommonAttrs(runCtx,
		semconv.Relay.Component.String(semconv.ComponentValues.Coordinator))

	for _, worker := range c.workers {
		c.wg.Add(1)
		go func(w *DestWorker) {
			defer c.wg.Done()
			w.Run(runCtx)
		}(worker)
	}

	for _, subscriber := range c.subscribers {
		c.wg.Add(1)
		go func(s *Subscriber) {
			defer c.wg.Done()
			s.Run(runCtx)
		}(subscriber)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.dispatchLoop(runCtx)
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.reconcileLoop(runCtx)
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.status.Run(runCtx)
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.replayExistingPositions(runCtx)
	}()

	c.tel.Info(runCtx, "relay started",
		semconv.Relay.Reason.String("startup"))
}

// dispatchLoop abanica cada evento a todas las rutas cuya fuente
// matchea, hacia la cola serializada del destino de cada ruta.
func (c *Coordinator) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-c.events:
			for _, route := range c.routesBySource[event.SourceAccountID] {
				rules := c.cfg.RuleSets[route.RuleSetID]
				worker := c.workers[route.DestAccountID]
				worker.Enqueue(ctx, workItem{route: route, rules: rules, event: event})
			}
		}
	}
}

func (c *Coordinator) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.reconciler.RunOnce(ctx)
		}
	}
}

// replayExistingPositions espera la primera sincronización de cada
// fuente y re-inyecta sus posiciones abiertas como eventos opened para
// las rutas que pidieron copyExistingPositions. El dispatcher descarta
// como duplicado lo que ya tenga mapping.
func (c *Coordinator) replayExistingPositions(ctx context.Context) {
	pending := make(map[string]bool)
	for _, route := range c.routes {
		if route.CopyExistingPositions {
			pending[route.SourceAccountID] = true
		}
	}
	if len(pending) == 0 {
		return
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for sourceID := range pending {
			state := c.states[sourceID]
			if !state.Synced() {
				continue
			}
			delete(pending, sourceID)

			for _, pos := range state.OpenPositions() {
				event := domain.TradeEvent{
					SourceAccountID:  sourceID,
					SourcePositionID: pos.PositionID,
					Symbol:           pos.Symbol,
					Direction:        pos.Direction,
					Volume:           pos.Volume,
					Price:            pos.OpenPrice,
					Time:             pos.OpenTime,
					Kind:             domain.EventOpened,
				}
				for _, route := range c.routesBySource[sourceID] {
					if !route.CopyExistingPositions {
						continue
					}
					rules := c.cfg.RuleSets[route.RuleSetID]
					c.workers[route.DestAccountID].Enqueue(ctx, workItem{route: route, rules: rules, event: event})
				}
			}
			c.tel.Info(ctx, "existing positions replayed",
				semconv.Relay.SourceAccountID.String(sourceID))
		}
	}
}

// ReconcileOnce corre un barrido de reconciliación bajo demanda.
func (c *Coordinator) ReconcileOnce(ctx context.Context) {
	c.reconciler.RunOnce(ctx)
}

// Shutdown detiene el consumo de eventos, espera (acotado) a que las
// ejecuciones en vuelo terminen y cierra conexiones y stores.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(c.cfg.ShutdownGrace):
		c.tel.Warn(ctx, "shutdown grace period expired, forcing exit")
	}

	var firstErr error
	if err := c.log.Close(); err != nil {
		firstErr = err
	}
	if err := c.factory.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
