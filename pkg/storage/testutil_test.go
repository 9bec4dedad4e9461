package storage

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kairos-watch/capture/pkg/core"
)

// openTestDB opens a database for tests.
// When TEST_DATABASE_URL is set it connects to PostgreSQL; otherwise it
// opens a fresh in-memory SQLite instance on a single connection, since
// every new connection to ":memory:" would see an empty database.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn != "" {
		db, err := gorm.Open(postgres.Open(dsn), testGormConfig())
		require.NoError(t, err, "open postgres test db")

		sqlDB, err := db.DB()
		require.NoError(t, err, "get underlying sql.DB")
		sqlDB.SetMaxOpenConns(4)
		sqlDB.SetMaxIdleConns(1)

		// Clean before AND after to ensure test isolation.
		cleanupPostgresDB(t, db)
		t.Cleanup(func() {
			cleanupPostgresDB(t, db)
			_ = sqlDB.Close()
		})
		return db
	}

	db, err := gorm.Open(sqlite.Open(":memory:"), testGormConfig())
	require.NoError(t, err, "open in-memory sqlite")
	require.NoError(t, ConfigurePool(db, PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1}))
	return db
}

// openFileTestDB opens a SQLite file database that allows several
// connections. Transactions take the write lock up front so concurrent
// claims queue on the busy timeout instead of failing.
func openFileTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.db")
	db, err := gorm.Open(sqlite.Open("file:"+path+"?_txlock=immediate&_busy_timeout=10000"), testGormConfig())
	require.NoError(t, err, "open file sqlite")
	require.NoError(t, ConfigurePool(db, PoolConfig{MaxOpenConns: 8, MaxIdleConns: 8}))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func testGormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}
}

// cleanupPostgresDB deletes all rows from tables after each test
// so tests are isolated without requiring a fresh database per test.
func cleanupPostgresDB(t *testing.T, db *gorm.DB) {
	t.Helper()
	// Order matters: respect foreign key constraints.
	tables := []string{"alert_events", "alert_rules", "artifacts", "runs", "jobs", "targets"}
	for _, tbl := range tables {
		db.Exec("DELETE FROM " + tbl)
	}
}

// testClock is a settable time source.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// newTestStorage returns a migrated GormStorage driven by clock.
func newTestStorage(t *testing.T, clock *testClock) *GormStorage {
	t.Helper()
	s := NewGormStorage(openTestDB(t), WithClock(clock.Now))
	require.NoError(t, s.Migrate(t.Context()))
	return s
}

// newTestTarget saves and returns an enabled listing target.
func newTestTarget(t *testing.T, s *GormStorage) *core.Target {
	t.Helper()
	target := &core.Target{
		Marketplace: "amazon",
		TargetType:  core.TargetListing,
		URL:         "https://www.amazon.com/dp/B0C1234XYZ",
		Cadence:     "@every 1h",
		Enabled:     true,
	}
	require.NoError(t, s.SaveTarget(t.Context(), target))
	return target
}

// newTestJob returns a job for targetID with default fields.
func newTestJob(targetID string) *core.Job {
	return &core.Job{TargetID: targetID}
}

// claimOne enqueues a job for target and claims it as workerID.
func claimOne(t *testing.T, s *GormStorage, target *core.Target, workerID string) *core.Job {
	t.Helper()
	require.NoError(t, s.Enqueue(t.Context(), newTestJob(target.ID)))
	job, err := s.Claim(t.Context(), workerID)
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}
