package internal

import (
	"context"
	"os"
	"time"

	"github.com/Monkeyattack/fxtrueup-sub003/domain"
	"github.com/Monkeyattack/fxtrueup-sub003/telemetry"
	"github.com/Monkeyattack/fxtrueup-sub003/utils"
)

// RouteStatus es la entrada por ruta del status feed.
type RouteStatus struct {
	Route       *domain.Route      `json:"route"`
	Stats       *domain.RouteStats `json:"stats"`
	LastEventAt *time.Time         `json:"last_event_at,omitempty"`
}

// StatusDocument es el snapshot completo que consume el dashboard/CLI.
type StatusDocument struct {
	GeneratedAt time.Time     `json:"generated_at"`
	Routes      []RouteStatus `json:"routes"`
}

// StatusWriter publica periódicamente el estado agregado de las rutas
// como un documento JSON en disco.
type StatusWriter struct {
	cfg    *Config
	stats  *StatsService
	states map[string]*SourceState
	tel    *telemetry.Client
}

// NewStatusWriter crea el publicador de estado.
func NewStatusWriter(cfg *Config, stats *StatsService, states map[string]*SourceState, tel *telemetry.Client) *StatusWriter {
	return &StatusWriter{
		cfg:    cfg,
		stats:  stats,
		states: states,
		tel:    tel,
	}
}

// Run publica en cada tick hasta que el contexto muere.
func (s *StatusWriter) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.WriteOnce(ctx); err != nil {
				s.tel.Warn(ctx, "failed to publish status feed")
			}
		}
	}
}

// WriteOnce arma y escribe el documento de estado. Escritura atómica
// vía archivo temporal + rename para que los lectores nunca vean un
// JSON a medias.
func (s *StatusWriter) WriteOnce(ctx context.Context) error {
	now := time.Now().UTC()
	doc := StatusDocument{GeneratedAt: now}

	routes, _ := s.cfg.EnabledRoutes()
	for _, route := range routes {
		stats, err := s.stats.Today(ctx, route.ID, now)
		if err != nil {
			return err
		}

		entry := RouteStatus{Route: route, Stats: stats}
		if state, ok := s.states[route.SourceAccountID]; ok {
			if last := state.LastEventAt(); !last.IsZero() {
				entry.LastEventAt = &last
			}
		}
		doc.Routes = append(doc.Routes, entry)
	}

	data, err := utils.MarshalJSON(doc)
	if err != nil {
		return err
	}

	tmp := s.cfg.StatusPath + ".tmp"
	if err := os.WriteFile(tmp, utils.EnsureNewlineBytes(data), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.cfg.StatusPath)
}
