// Package repository provee los backends de persistencia del relay:
// bbolt embebido (default) y PostgreSQL (opcional, despliegues
// multi-host).
package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/Monkeyattack/fxtrueup-sub003/domain"
)

var (
	bucketMappings = []byte("mappings")
	bucketStats    = []byte("stats")
	bucketOrphans  = []byte("orphans")
)

// BoltFactory implementa domain.RepositoryFactory sobre un único archivo
// bbolt. Todos los repositorios comparten el mismo DB handle.
type BoltFactory struct {
	db *bolt.DB
}

// NewBoltFactory abre (o crea) el archivo de estado y garantiza los
// buckets. El timeout de apertura evita colgarse si otro proceso tiene
// el lock del archivo.
func NewBoltFactory(path string) (*BoltFactory, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "failed to open state store", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketMappings, bucketStats, bucketOrphans} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "failed to create buckets", err)
	}

	return &BoltFactory{db: db}, nil
}

func (f *BoltFactory) MappingRepository() domain.MappingRepository {
	return &boltMappingRepository{db: f.db}
}

func (f *BoltFactory) StatsRepository() domain.StatsRepository {
	return &boltStatsRepository{db: f.db}
}

func (f *BoltFactory) OrphanRepository() domain.OrphanRepository {
	return &boltOrphanRepository{db: f.db}
}

func (f *BoltFactory) Close() error {
	return f.db.Close()
}

// boltMappingRepository persiste PositionMappings como registros JSON
// bajo la clave (sourceAccountId, sourcePositionId, destAccountId).
type boltMappingRepository struct {
	db *bolt.DB
}

func (r *boltMappingRepository) Get(ctx context.Context, sourceAccountID, sourcePositionID, destAccountID string) (*domain.PositionMapping, error) {
	key := []byte(domain.MappingKey(sourceAccountID, sourcePositionID, destAccountID))

	var mapping *domain.PositionMapping
	err := r.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketMappings).Get(key)
		if raw == nil {
			return nil
		}
		var m domain.PositionMapping
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		mapping = &m
		return nil
	})
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "failed to read mapping", err)
	}
	return mapping, nil
}

func (r *boltMappingRepository) GetLiveBySource(ctx context.Context, sourceAccountID, sourcePositionID string) ([]*domain.PositionMapping, error) {
	prefix := []byte(sourceAccountID + "::" + sourcePositionID + "::")

	var result []*domain.PositionMapping
	err := r.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketMappings).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var m domain.PositionMapping
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if m.IsLive() {
				result = append(result, &m)
			}
		}
		return nil
	})
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "failed to scan mappings by source", err)
	}
	return result, nil
}

func (r *boltMappingRepository) FindByDestPosition(ctx context.Context, destAccountID, destPositionID string) (*domain.PositionMapping, error) {
	var mapping *domain.PositionMapping
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMappings).ForEach(func(_, v []byte) error {
			var m domain.PositionMapping
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if m.DestAccountID == destAccountID && m.DestPositionID == destPositionID {
				mapping = &m
			}
			return nil
		})
	})
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "failed to scan mappings by dest position", err)
	}
	return mapping, nil
}

func (r *boltMappingRepository) LiveByDest(ctx context.Context, destAccountID string) ([]*domain.PositionMapping, error) {
	var result []*domain.PositionMapping
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMappings).ForEach(func(_, v []byte) error {
			var m domain.PositionMapping
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if m.DestAccountID == destAccountID && m.IsLive() {
				result = append(result, &m)
			}
			return nil
		})
	})
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "failed to scan live mappings", err)
	}
	return result, nil
}

func (r *boltMappingRepository) Upsert(ctx context.Context, mapping *domain.PositionMapping) error {
	raw, err := json.Marshal(mapping)
	if err != nil {
		return domain.WrapError(domain.ErrUnknown, "failed to marshal mapping", err)
	}

	err = r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMappings).Put([]byte(mapping.Key()), raw)
	})
	if err != nil {
		return domain.WrapError(domain.ErrStoreUnavailable, "failed to persist mapping", err)
	}
	return nil
}

func (r *boltMappingRepository) MarkClosed(ctx context.Context, sourceAccountID, sourcePositionID, destAccountID string, closedAt time.Time, reason string) error {
	key := []byte(domain.MappingKey(sourceAccountID, sourcePositionID, destAccountID))

	err := r.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMappings)
		raw := bucket.Get(key)
		if raw == nil {
			return domain.NewError(domain.ErrNotFound, "mapping not found")
		}
		var m domain.PositionMapping
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		m.ClosedAt = &closedAt
		m.CloseReason = reason
		updated, err := json.Marshal(&m)
		if err != nil {
			return err
		}
		return bucket.Put(key, updated)
	})
	if err != nil {
		if domain.CodeOf(err) == domain.ErrNotFound {
			return err
		}
		return domain.WrapError(domain.ErrStoreUnavailable, "failed to mark mapping closed", err)
	}
	return nil
}

// boltStatsRepository persiste RouteStats bajo (routeId, fecha UTC).
// La partición por fecha implementa el reset diario: un día nuevo
// simplemente no tiene registro todavía.
type boltStatsRepository struct {
	db *bolt.DB
}

func statsKey(routeID, date string) []byte {
	return []byte(routeID + "::" + date)
}

func (r *boltStatsRepository) Get(ctx context.Context, routeID, date string) (*domain.RouteStats, error) {
	var stats *domain.RouteStats
	err := r.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketStats).Get(statsKey(routeID, date))
		if raw == nil {
			return nil
		}
		var s domain.RouteStats
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		stats = &s
		return nil
	})
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "failed to read route stats", err)
	}
	return stats, nil
}

func (r *boltStatsRepository) Upsert(ctx context.Context, stats *domain.RouteStats) error {
	raw, err := json.Marshal(stats)
	if err != nil {
		return domain.WrapError(domain.ErrUnknown, "failed to marshal route stats", err)
	}

	err = r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStats).Put(statsKey(stats.RouteID, stats.Date), raw)
	})
	if err != nil {
		return domain.WrapError(domain.ErrStoreUnavailable, "failed to persist route stats", err)
	}
	return nil
}

// boltOrphanRepository acumula huérfanos detectados por la
// reconciliación. Clave (destAccountId, destPositionId): cada barrido
// re-reporta el mismo huérfano y el registro se reemplaza, no se
// duplica.
type boltOrphanRepository struct {
	db *bolt.DB
}

func orphanKey(destAccountID, destPositionID string) []byte {
	return []byte(destAccountID + "::" + destPositionID)
}

func (r *boltOrphanRepository) Record(ctx context.Context, orphan *domain.OrphanPosition) error {
	raw, err := json.Marshal(orphan)
	if err != nil {
		return domain.WrapError(domain.ErrUnknown, "failed to marshal orphan", err)
	}

	err = r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOrphans).Put(orphanKey(orphan.DestAccountID, orphan.DestPositionID), raw)
	})
	if err != nil {
		return domain.WrapError(domain.ErrStoreUnavailable, "failed to persist orphan", err)
	}
	return nil
}

func (r *boltOrphanRepository) List(ctx context.Context) ([]*domain.OrphanPosition, error) {
	var result []*domain.OrphanPosition
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOrphans).ForEach(func(_, v []byte) error {
			var o domain.OrphanPosition
			if err := json.Unmarshal(v, &o); err != nil {
				return err
			}
			result = append(result, &o)
			return nil
		})
	})
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "failed to list orphans", err)
	}
	return result, nil
}
