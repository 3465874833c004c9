package registry

import (
	"sort"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dreamware/euler/internal/eulererr"
)

// kvRow is the gorm model backing GormKV: one row per coordination-store
// path, mirroring the shape storage.MemoryStore keeps in a plain map.
type kvRow struct {
	Path      string `gorm:"primaryKey"`
	Value     []byte
	UpdatedAt time.Time
}

// GormKV is a KVStore backed by a SQL table, for a deployment that wants
// shard registration state to survive a coordinator process restart
// without standing up a separate ZooKeeper/etcd cluster just for this.
// Grounded on the teacher's storage.Store contract, the persistence is
// gorm.io/gorm over whichever driver the caller opens (postgres for
// production, sqlite for a single-node deployment or tests).
type GormKV struct {
	db *gorm.DB
}

// NewGormKV opens GormKV against db, migrating the kv_rows table if it
// does not already exist.
func NewGormKV(db *gorm.DB) (*GormKV, error) {
	if err := db.AutoMigrate(&kvRow{}); err != nil {
		return nil, err
	}
	return &GormKV{db: db}, nil
}

// Get returns the value at path, or gorm.ErrRecordNotFound if absent.
func (g *GormKV) Get(path string) ([]byte, error) {
	var row kvRow
	if err := g.db.First(&row, "path = ?", path).Error; err != nil {
		return nil, err
	}
	return row.Value, nil
}

// Put upserts the value at path. Save would only update an existing row
// for a string primary key, so the conflict clause makes first-time
// registration and re-registration the same idempotent write.
func (g *GormKV) Put(path string, value []byte) error {
	row := kvRow{Path: path, Value: value, UpdatedAt: time.Now()}
	return g.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

// Delete removes path. Deleting a path that does not exist is not an
// error, matching the idempotent-delete contract RegisterShard/
// DeregisterShard depend on.
func (g *GormKV) Delete(path string) error {
	return g.db.Delete(&kvRow{}, "path = ?", path).Error
}

// List returns every stored path, sorted.
func (g *GormKV) List() []string {
	var rows []kvRow
	if err := g.db.Select("path").Find(&rows).Error; err != nil {
		return nil
	}
	paths := make([]string, len(rows))
	for i, r := range rows {
		paths[i] = r.Path
	}
	sort.Strings(paths)
	return paths
}

// OpenGormKV opens a GormKV against the named driver and DSN: "postgres"
// for a shared production database, "sqlite" for a single-node
// deployment or tests.
func OpenGormKV(driver, dsn string) (*GormKV, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, eulererr.New(eulererr.InvalidArgument, "registry: unknown gorm driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, eulererr.New(eulererr.Internal, "registry: open %s store: %v", driver, err)
	}
	return NewGormKV(db)
}
