package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // Driver PostgreSQL

	"github.com/Monkeyattack/fxtrueup-sub003/domain"
)

// PostgresFactory implementa domain.RepositoryFactory para PostgreSQL.
// Pensado para despliegues multi-host donde el archivo bbolt local no
// alcanza.
type PostgresFactory struct {
	db *sql.DB

	// Repositorios inicializados lazy
	mappingRepo domain.MappingRepository
	statsRepo   domain.StatsRepository
	orphanRepo  domain.OrphanRepository
}

// NewPostgresFactory crea un factory de repositorios PostgreSQL.
//
// Uso:
//
//	db, err := sql.Open("postgres", connStr)
//	factory := repository.NewPostgresFactory(db)
//	mappings := factory.MappingRepository()
func NewPostgresFactory(db *sql.DB) *PostgresFactory {
	return &PostgresFactory{
		db: db,
	}
}

// MappingRepository retorna el repositorio de mappings.
func (f *PostgresFactory) MappingRepository() domain.MappingRepository {
	if f.mappingRepo == nil {
		f.mappingRepo = &postgresMappingRepo{db: f.db}
	}
	return f.mappingRepo
}

// StatsRepository retorna el repositorio de stats por ruta.
func (f *PostgresFactory) StatsRepository() domain.StatsRepository {
	if f.statsRepo == nil {
		f.statsRepo = &postgresStatsRepo{db: f.db}
	}
	return f.statsRepo
}

// OrphanRepository retorna el repositorio de huérfanos.
func (f *PostgresFactory) OrphanRepository() domain.OrphanRepository {
	if f.orphanRepo == nil {
		f.orphanRepo = &postgresOrphanRepo{db: f.db}
	}
	return f.orphanRepo
}

// Close cierra el pool de conexiones.
func (f *PostgresFactory) Close() error {
	return f.db.Close()
}

// ===========================================================================
// postgresMappingRepo
// ===========================================================================

type postgresMappingRepo struct {
	db *sql.DB
}

const mappingColumns = `source_account_id, source_position_id, dest_account_id, dest_position_id,
       source_symbol, dest_symbol, source_volume, dest_volume,
       open_time, source_open_price, dest_open_price, comment,
       closed_at, close_reason`

func (r *postgresMappingRepo) Get(ctx context.Context, sourceAccountID, sourcePositionID, destAccountID string) (*domain.PositionMapping, error) {
	query := `
		SELECT ` + mappingColumns + `
		FROM relay.position_mappings
		WHERE source_account_id = $1 AND source_position_id = $2 AND dest_account_id = $3
	`
	mappings, err := r.queryMappings(ctx, query, sourceAccountID, sourcePositionID, destAccountID)
	if err != nil {
		return nil, err
	}
	if len(mappings) == 0 {
		return nil, nil
	}
	return mappings[0], nil
}

func (r *postgresMappingRepo) GetLiveBySource(ctx context.Context, sourceAccountID, sourcePositionID string) ([]*domain.PositionMapping, error) {
	query := `
		SELECT ` + mappingColumns + `
		FROM relay.position_mappings
		WHERE source_account_id = $1 AND source_position_id = $2 AND closed_at IS NULL
	`
	return r.queryMappings(ctx, query, sourceAccountID, sourcePositionID)
}

func (r *postgresMappingRepo) FindByDestPosition(ctx context.Context, destAccountID, destPositionID string) (*domain.PositionMapping, error) {
	query := `
		SELECT ` + mappingColumns + `
		FROM relay.position_mappings
		WHERE dest_account_id = $1 AND dest_position_id = $2
		ORDER BY open_time DESC
		LIMIT 1
	`
	mappings, err := r.queryMappings(ctx, query, destAccountID, destPositionID)
	if err != nil {
		return nil, err
	}
	if len(mappings) == 0 {
		return nil, nil
	}
	return mappings[0], nil
}

func (r *postgresMappingRepo) LiveByDest(ctx context.Context, destAccountID string) ([]*domain.PositionMapping, error) {
	query := `
		SELECT ` + mappingColumns + `
		FROM relay.position_mappings
		WHERE dest_account_id = $1 AND closed_at IS NULL
	`
	return r.queryMappings(ctx, query, destAccountID)
}

func (r *postgresMappingRepo) Upsert(ctx context.Context, mapping *domain.PositionMapping) error {
	query := `
		INSERT INTO relay.position_mappings (
			source_account_id, source_position_id, dest_account_id, dest_position_id,
			source_symbol, dest_symbol, source_volume, dest_volume,
			open_time, source_open_price, dest_open_price, comment,
			closed_at, close_reason
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
		ON CONFLICT (source_account_id, source_position_id, dest_account_id) DO UPDATE
		SET dest_position_id = EXCLUDED.dest_position_id,
		    dest_symbol = EXCLUDED.dest_symbol,
		    dest_volume = EXCLUDED.dest_volume,
		    dest_open_price = EXCLUDED.dest_open_price,
		    comment = EXCLUDED.comment,
		    closed_at = EXCLUDED.closed_at,
		    close_reason = EXCLUDED.close_reason,
		    updated_at = NOW()
	`
	var closedAt sql.NullTime
	if mapping.ClosedAt != nil {
		closedAt = sql.NullTime{Time: *mapping.ClosedAt, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, query,
		mapping.SourceAccountID,
		mapping.SourcePositionID,
		mapping.DestAccountID,
		mapping.DestPositionID,
		mapping.SourceSymbol,
		mapping.DestSymbol,
		mapping.SourceVolume,
		mapping.DestVolume,
		mapping.OpenTime,
		mapping.SourceOpenPrice,
		mapping.DestOpenPrice,
		mapping.Comment,
		closedAt,
		mapping.CloseReason,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert mapping: %w", err)
	}
	return nil
}

func (r *postgresMappingRepo) MarkClosed(ctx context.Context, sourceAccountID, sourcePositionID, destAccountID string, closedAt time.Time, reason string) error {
	query := `
		UPDATE relay.position_mappings
		SET closed_at = $1, close_reason = $2, updated_at = NOW()
		WHERE source_account_id = $3 AND source_position_id = $4 AND dest_account_id = $5
	`
	result, err := r.db.ExecContext(ctx, query, closedAt, reason, sourceAccountID, sourcePositionID, destAccountID)
	if err != nil {
		return fmt.Errorf("failed to mark mapping closed: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.NewError(domain.ErrNotFound, "mapping not found")
	}
	return nil
}

func (r *postgresMappingRepo) queryMappings(ctx context.Context, query string, args ...interface{}) ([]*domain.PositionMapping, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query mappings: %w", err)
	}
	defer rows.Close()

	var mappings []*domain.PositionMapping
	for rows.Next() {
		var m domain.PositionMapping
		var closedAt sql.NullTime
		var closeReason sql.NullString
		err := rows.Scan(
			&m.SourceAccountID,
			&m.SourcePositionID,
			&m.DestAccountID,
			&m.DestPositionID,
			&m.SourceSymbol,
			&m.DestSymbol,
			&m.SourceVolume,
			&m.DestVolume,
			&m.OpenTime,
			&m.SourceOpenPrice,
			&m.DestOpenPrice,
			&m.Comment,
			&closedAt,
			&closeReason,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mapping: %w", err)
		}
		if closedAt.Valid {
			t := closedAt.Time
			m.ClosedAt = &t
		}
		m.CloseReason = closeReason.String
		mappings = append(mappings, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return mappings, nil
}

// ===========================================================================
// postgresStatsRepo
// ===========================================================================

type postgresStatsRepo struct {
	db *sql.DB
}

func (r *postgresStatsRepo) Get(ctx context.Context, routeID, date string) (*domain.RouteStats, error) {
	query := `
		SELECT route_id, stats_date, trades_copied, trades_rejected,
		       daily_profit, daily_loss, last_trade_time
		FROM relay.route_stats
		WHERE route_id = $1 AND stats_date = $2
	`
	var stats domain.RouteStats
	var lastTrade sql.NullTime
	err := r.db.QueryRowContext(ctx, query, routeID, date).Scan(
		&stats.RouteID,
		&stats.Date,
		&stats.TradesCopied,
		&stats.TradesRejected,
		&stats.DailyProfit,
		&stats.DailyLoss,
		&lastTrade,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get route stats: %w", err)
	}
	if lastTrade.Valid {
		stats.LastTradeTime = lastTrade.Time
	}
	return &stats, nil
}

func (r *postgresStatsRepo) Upsert(ctx context.Context, stats *domain.RouteStats) error {
	query := `
		INSERT INTO relay.route_stats (
			route_id, stats_date, trades_copied, trades_rejected,
			daily_profit, daily_loss, last_trade_time
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (route_id, stats_date) DO UPDATE
		SET trades_copied = EXCLUDED.trades_copied,
		    trades_rejected = EXCLUDED.trades_rejected,
		    daily_profit = EXCLUDED.daily_profit,
		    daily_loss = EXCLUDED.daily_loss,
		    last_trade_time = EXCLUDED.last_trade_time,
		    updated_at = NOW()
	`
	var lastTrade sql.NullTime
	if !stats.LastTradeTime.IsZero() {
		lastTrade = sql.NullTime{Time: stats.LastTradeTime, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, query,
		stats.RouteID,
		stats.Date,
		stats.TradesCopied,
		stats.TradesRejected,
		stats.DailyProfit,
		stats.DailyLoss,
		lastTrade,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert route stats: %w", err)
	}
	return nil
}

// ===========================================================================
// postgresOrphanRepo
// ===========================================================================

type postgresOrphanRepo struct {
	db *sql.DB
}

func (r *postgresOrphanRepo) Record(ctx context.Context, orphan *domain.OrphanPosition) error {
	query := `
		INSERT INTO relay.orphan_positions (
			route_id, dest_account_id, dest_position_id, symbol, comment, reason, detected_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (dest_account_id, dest_position_id) DO UPDATE
		SET reason = EXCLUDED.reason, detected_at = EXCLUDED.detected_at
	`
	_, err := r.db.ExecContext(ctx, query,
		orphan.RouteID,
		orphan.DestAccountID,
		orphan.DestPositionID,
		orphan.Symbol,
		orphan.Comment,
		orphan.Reason,
		orphan.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record orphan: %w", err)
	}
	return nil
}

func (r *postgresOrphanRepo) List(ctx context.Context) ([]*domain.OrphanPosition, error) {
	query := `
		SELECT route_id, dest_account_id, dest_position_id, symbol, comment, reason, detected_at
		FROM relay.orphan_positions
		ORDER BY detected_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query orphans: %w", err)
	}
	defer rows.Close()

	var orphans []*domain.OrphanPosition
	for rows.Next() {
		var o domain.OrphanPosition
		err := rows.Scan(
			&o.RouteID,
			&o.DestAccountID,
			&o.DestPositionID,
			&o.Symbol,
			&o.Comment,
			&o.Reason,
			&o.DetectedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan orphan: %w", err)
		}
		orphans = append(orphans, &o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orphans, nil
}
