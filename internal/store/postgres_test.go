package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/skiatlas/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresWithPool(mock), mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS ski_areas`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCommit()

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate_RollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS ski_areas`).WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := s.Migrate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "postgres: migrate")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PutBasic_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	poly := geom.NewPolygonFlat(geom.XY, []float64{7, 46, 7.5, 46, 7.5, 46.5, 7, 46}, []int{8})

	mock.ExpectExec(`INSERT INTO ski_areas .* ON CONFLICT \(slug\) DO UPDATE SET`).
		WithArgs("zermatt", "Zermatt", model.Pending, model.Pending,
			`{"type":"FeatureCollection","features":[]}`, pgxmock.AnyArg(), nil, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.PutBasic(context.Background(), model.AreaRecord{
		Slug:        "zermatt",
		Name:        "Zermatt",
		Country:     model.Pending,
		Province:    model.Pending,
		GeoData:     []byte(`{"type":"FeatureCollection","features":[]}`),
		LastUpdated: now,
		Boundary:    poly,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PutBasic_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO ski_areas`).
		WithArgs("verbier", "Verbier", "", "", pgxmock.AnyArg(), pgxmock.AnyArg(), nil, pgxmock.AnyArg()).
		WillReturnError(assert.AnError)

	err := s.PutBasic(context.Background(), model.AreaRecord{Slug: "verbier", Name: "Verbier"})
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "put area verbier")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateLocation(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE ski_areas SET country = \$1, province = \$2, last_updated = \$3 WHERE slug = \$4`).
		WithArgs("Switzerland", "Valais", at, "zermatt").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateLocation(context.Background(), "zermatt", model.AdminLocation{Country: "Switzerland", Province: "Valais"}, at)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateLocation_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE ski_areas SET country`).
		WithArgs(model.Unknown, model.Unknown, at, "ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateLocation(context.Background(), "ghost", model.UnknownLocation(), at)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateDetail(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE ski_areas SET detail_key = \$1, last_updated = \$2 WHERE slug = \$3`).
		WithArgs("zermatt.geojson", at, "zermatt").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.UpdateDetail(context.Background(), "zermatt", "zermatt.geojson", at))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	key := "zermatt.geojson"

	mock.ExpectQuery(`SELECT slug, name, country, province, geo_data, detail_key, last_updated FROM ski_areas WHERE slug = \$1`).
		WithArgs("zermatt").
		WillReturnRows(pgxmock.NewRows([]string{"slug", "name", "country", "province", "geo_data", "detail_key", "last_updated"}).
			AddRow("zermatt", "Zermatt", "Switzerland", "Valais", []byte(`{"type":"FeatureCollection"}`), &key, now))

	rec, err := s.Get(context.Background(), "zermatt")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "Zermatt", rec.Name)
	assert.Equal(t, "Valais", rec.Province)
	assert.Equal(t, "zermatt.geojson", rec.DetailKey)
	assert.JSONEq(t, `{"type":"FeatureCollection"}`, string(rec.GeoData))
	assert.Equal(t, now, rec.LastUpdated)
}

func TestPostgresStore_Get_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT slug, name`).
		WithArgs("nowhere").
		WillReturnError(pgx.ErrNoRows)

	rec, err := s.Get(context.Background(), "nowhere")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Count(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT count\(\*\) FROM ski_areas`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(42))

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, n)
}

func TestEncodeBoundary(t *testing.T) {
	b, err := encodeBoundary(model.AreaRecord{})
	require.NoError(t, err)
	assert.Nil(t, b)

	pt := geom.NewPointFlat(geom.XY, []float64{7.75, 46.02})
	b, err = encodeBoundary(model.AreaRecord{Slug: "x", Boundary: pt})
	require.NoError(t, err)

	g, err := ewkb.Unmarshal(b)
	require.NoError(t, err)
	decoded, ok := g.(*geom.Point)
	require.True(t, ok)
	assert.Equal(t, 4326, decoded.SRID())
	assert.Equal(t, []float64{7.75, 46.02}, decoded.FlatCoords())
	assert.Equal(t, 0, pt.SRID(), "input geometry must not be mutated")
}
