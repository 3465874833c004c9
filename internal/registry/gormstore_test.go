package registry

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// mockKV opens a GormKV over a sqlmock connection, bypassing
// NewGormKV's AutoMigrate so expectations stay focused on the KV
// operations themselves.
func mockKV(t *testing.T) (*GormKV, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 conn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	return &GormKV{db: db}, mock
}

func TestGormKVGet(t *testing.T) {
	kv, mock := mockKV(t)
	rows := sqlmock.NewRows([]string{"path", "value"}).
		AddRow("/euler/meta", []byte(`{"num_shards":2}`))
	mock.ExpectQuery(`SELECT \* FROM "kv_rows"`).
		WithArgs("/euler/meta", 1).
		WillReturnRows(rows)

	v, err := kv.Get("/euler/meta")
	require.NoError(t, err)
	require.Equal(t, `{"num_shards":2}`, string(v))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGormKVGetMissing(t *testing.T) {
	kv, mock := mockKV(t)
	mock.ExpectQuery(`SELECT \* FROM "kv_rows"`).
		WillReturnRows(sqlmock.NewRows([]string{"path", "value"}))

	_, err := kv.Get("/nope")
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestGormKVPutUpserts(t *testing.T) {
	kv, mock := mockKV(t)
	mock.ExpectExec(`INSERT INTO "kv_rows" (.+) ON CONFLICT`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, kv.Put("/shard/0/h:1", []byte("{}")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGormKVDelete(t *testing.T) {
	kv, mock := mockKV(t)
	mock.ExpectExec(`DELETE FROM "kv_rows"`).
		WithArgs("/shard/0/h:1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, kv.Delete("/shard/0/h:1"))
}

func TestGormKVList(t *testing.T) {
	kv, mock := mockKV(t)
	rows := sqlmock.NewRows([]string{"path"}).
		AddRow("/euler/shard/1/b").
		AddRow("/euler/meta")
	mock.ExpectQuery(`SELECT "path" FROM "kv_rows"`).WillReturnRows(rows)

	paths := kv.List()
	require.Equal(t, []string{"/euler/meta", "/euler/shard/1/b"}, paths)
}
