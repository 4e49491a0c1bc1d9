package store

import (
	"context"
	"encoding/binary"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/skiatlas/internal/db"
	"github.com/sells-group/skiatlas/internal/model"
)

// PostgresStore implements AreaStore on a pgx pool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres connects to dsn and returns a store that owns the pool.
func NewPostgres(ctx context.Context, dsn string, pc db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, dsn, pc)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Close leaves the pool open.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying pool so the work queue can share it.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

// boundary holds the primary geometry as EWKB (SRID 4326); PostGIS can read
// it with ST_GeomFromEWKB.
const postgresMigration = `
CREATE TABLE IF NOT EXISTS ski_areas (
	slug         TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	country      TEXT NOT NULL DEFAULT 'pending',
	province     TEXT NOT NULL DEFAULT 'pending',
	geo_data     JSONB,
	boundary     BYTEA,
	detail_key   TEXT,
	last_updated TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_ski_areas_country ON ski_areas(country);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, postgresMigration)
		return err
	})
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) PutBasic(ctx context.Context, rec model.AreaRecord) error {
	boundary, err := encodeBoundary(rec)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO ski_areas (slug, name, country, province, geo_data, boundary, detail_key, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (slug) DO UPDATE SET
			name = EXCLUDED.name,
			country = EXCLUDED.country,
			province = EXCLUDED.province,
			geo_data = EXCLUDED.geo_data,
			boundary = EXCLUDED.boundary,
			detail_key = EXCLUDED.detail_key,
			last_updated = EXCLUDED.last_updated`,
		rec.Slug, rec.Name, rec.Country, rec.Province,
		nullableJSON(rec.GeoData), boundary, nullableString(rec.DetailKey), rec.LastUpdated.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: put area %s", rec.Slug)
	}
	return nil
}

func (s *PostgresStore) UpdateLocation(ctx context.Context, slug string, loc model.AdminLocation, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ski_areas SET country = $1, province = $2, last_updated = $3 WHERE slug = $4`,
		loc.Country, loc.Province, at.UTC(), slug,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update location %s", slug)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: update location %s", slug)
	}
	return nil
}

func (s *PostgresStore) UpdateDetail(ctx context.Context, slug, key string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ski_areas SET detail_key = $1, last_updated = $2 WHERE slug = $3`,
		key, at.UTC(), slug,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update detail %s", slug)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: update detail %s", slug)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, slug string) (*model.AreaRecord, error) {
	var rec model.AreaRecord
	var geoData []byte
	var detailKey *string

	err := s.pool.QueryRow(ctx,
		`SELECT slug, name, country, province, geo_data, detail_key, last_updated FROM ski_areas WHERE slug = $1`,
		slug,
	).Scan(&rec.Slug, &rec.Name, &rec.Country, &rec.Province, &geoData, &detailKey, &rec.LastUpdated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get area %s", slug)
	}

	rec.GeoData = geoData
	if detailKey != nil {
		rec.DetailKey = *detailKey
	}
	return &rec, nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM ski_areas`).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "postgres: count areas")
	}
	return n, nil
}

// encodeBoundary renders the record's geometry as little-endian EWKB tagged
// with SRID 4326.
func encodeBoundary(rec model.AreaRecord) ([]byte, error) {
	var g geom.T
	switch t := rec.Boundary.(type) {
	case nil:
		return nil, nil
	case *geom.Point:
		g = t.Clone().SetSRID(wgs84)
	case *geom.LineString:
		g = t.Clone().SetSRID(wgs84)
	case *geom.Polygon:
		g = t.Clone().SetSRID(wgs84)
	default:
		g = t
	}
	b, err := ewkb.Marshal(g, binary.LittleEndian)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: encode boundary %s", rec.Slug)
	}
	return b, nil
}

const wgs84 = 4326

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
