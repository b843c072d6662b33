package domain

import (
	"context"
	"time"
)

// MappingRepository persiste PositionMappings.
//
// La implementación debe sobrevivir reinicios del proceso: el relay no
// puede re-copiar una posición que ya mapeó antes de un crash.
type MappingRepository interface {
	// Get retorna el mapping del triple exacto, o nil si no existe.
	// Incluye mappings cerrados (para el chequeo de cerrado reciente).
	Get(ctx context.Context, sourceAccountID, sourcePositionID, destAccountID string) (*PositionMapping, error)

	// GetLiveBySource retorna los mappings vivos de una posición fuente
	// en cualquier destino (fan-out).
	GetLiveBySource(ctx context.Context, sourceAccountID, sourcePositionID string) ([]*PositionMapping, error)

	// FindByDestPosition busca el mapping que produjo una posición
	// destino concreta, o nil.
	FindByDestPosition(ctx context.Context, destAccountID, destPositionID string) (*PositionMapping, error)

	// LiveByDest retorna los mappings vivos hacia una cuenta destino.
	LiveByDest(ctx context.Context, destAccountID string) ([]*PositionMapping, error)

	// Upsert crea o reemplaza un mapping.
	Upsert(ctx context.Context, mapping *PositionMapping) error

	// MarkClosed marca un mapping como cerrado. Los mappings nunca se
	// borran.
	MarkClosed(ctx context.Context, sourceAccountID, sourcePositionID, destAccountID string, closedAt time.Time, reason string) error
}

// StatsRepository persiste RouteStats por (ruta, fecha UTC).
type StatsRepository interface {
	// Get retorna los stats de la ruta para la fecha dada, o nil.
	Get(ctx context.Context, routeID, date string) (*RouteStats, error)

	// Upsert crea o reemplaza los stats.
	Upsert(ctx context.Context, stats *RouteStats) error
}

// OrphanRepository registra posiciones destino huérfanas para revisión
// manual. Nunca se auto-reparan ni se descartan en silencio.
type OrphanRepository interface {
	Record(ctx context.Context, orphan *OrphanPosition) error
	List(ctx context.Context) ([]*OrphanPosition, error)
}

// RepositoryFactory agrupa los repositorios de un backend de
// persistencia (bbolt local o PostgreSQL).
type RepositoryFactory interface {
	MappingRepository() MappingRepository
	StatsRepository() StatsRepository
	OrphanRepository() OrphanRepository
	Close() error
}
