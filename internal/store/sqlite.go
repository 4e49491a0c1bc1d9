package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/skiatlas/internal/model"
)

// SQLiteStore implements AreaStore using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS ski_areas (
	slug         TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	country      TEXT NOT NULL DEFAULT 'pending',
	province     TEXT NOT NULL DEFAULT 'pending',
	geo_data     TEXT,
	detail_key   TEXT,
	last_updated TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ski_areas_country ON ski_areas(country);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) PutBasic(ctx context.Context, rec model.AreaRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ski_areas (slug, name, country, province, geo_data, detail_key, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (slug) DO UPDATE SET
			name = excluded.name,
			country = excluded.country,
			province = excluded.province,
			geo_data = excluded.geo_data,
			detail_key = excluded.detail_key,
			last_updated = excluded.last_updated`,
		rec.Slug, rec.Name, rec.Country, rec.Province,
		nullableJSON(rec.GeoData), nullableString(rec.DetailKey), formatTime(rec.LastUpdated),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: put area %s", rec.Slug)
	}
	return nil
}

func (s *SQLiteStore) UpdateLocation(ctx context.Context, slug string, loc model.AdminLocation, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ski_areas SET country = ?, province = ?, last_updated = ? WHERE slug = ?`,
		loc.Country, loc.Province, formatTime(at), slug,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update location %s", slug)
	}
	return checkRowsAffected(res, "sqlite: update location", slug)
}

func (s *SQLiteStore) UpdateDetail(ctx context.Context, slug, key string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ski_areas SET detail_key = ?, last_updated = ? WHERE slug = ?`,
		key, formatTime(at), slug,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update detail %s", slug)
	}
	return checkRowsAffected(res, "sqlite: update detail", slug)
}

func (s *SQLiteStore) Get(ctx context.Context, slug string) (*model.AreaRecord, error) {
	var rec model.AreaRecord
	var geoData, detailKey sql.NullString
	var updated string

	err := s.db.QueryRowContext(ctx,
		`SELECT slug, name, country, province, geo_data, detail_key, last_updated FROM ski_areas WHERE slug = ?`,
		slug,
	).Scan(&rec.Slug, &rec.Name, &rec.Country, &rec.Province, &geoData, &detailKey, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get area %s", slug)
	}

	if geoData.Valid {
		rec.GeoData = []byte(geoData.String)
	}
	rec.DetailKey = detailKey.String
	rec.LastUpdated, err = time.Parse(time.RFC3339Nano, updated)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: parse last_updated for %s", slug)
	}
	return &rec, nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM ski_areas`).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "sqlite: count areas")
	}
	return n, nil
}

func checkRowsAffected(res sql.Result, op, slug string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "%s %s: rows affected", op, slug)
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", op, slug)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
