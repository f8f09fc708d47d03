package retention

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"mailquill/models"
	"mailquill/queue"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.MigrateDB(db))
	return db
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// backdate rewrites the gorm timestamps directly so retention cutoffs can
// be exercised without waiting.
func backdate(t *testing.T, db *gorm.DB, model interface{}, id uint, age time.Duration) {
	t.Helper()
	then := time.Now().Add(-age)
	require.NoError(t, db.Model(model).Where("id = ?", id).UpdateColumns(map[string]interface{}{
		"created_at": then,
		"updated_at": then,
	}).Error)
}

func seedCampaign(t *testing.T, db *gorm.DB, status models.CampaignStatus) *models.Campaign {
	t.Helper()
	c := &models.Campaign{UserID: 1, Name: "camp-" + string(status), Status: status}
	require.NoError(t, db.Create(c).Error)
	return c
}

// failingQueue simulates a queue backend outage: every inspection fails.
type failingQueue struct {
	*queue.MemoryQueue
}

func (f *failingQueue) ListPending(_ context.Context, _ ...queue.State) ([]queue.Job, error) {
	return nil, errors.New("queue backend unreachable")
}
