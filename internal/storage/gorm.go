package storage

import (
	"context"
	"errors"
	"io"
	"log"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"traffic-insights/internal/apperr"
	"traffic-insights/internal/models"
)

// GormStore is the Postgres-backed store.
type GormStore struct {
	db *gorm.DB
}

// OpenGorm connects to Postgres and migrates the aggregation tables.
func OpenGorm(dsn string, logg *logrus.Logger) (*GormStore, error) {
	if dsn == "" {
		return nil, apperr.Newf(apperr.KindConfigMissing, "storage.open", "database DSN is required")
	}

	silent := gormlogger.New(
		log.New(io.Discard, "", log.LstdFlags),
		gormlogger.Config{LogLevel: gormlogger.Silent},
	)

	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger:                 silent,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, apperr.New(apperr.KindPersistence, "storage.open", err)
	}

	store := &GormStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, err
	}

	logg.Info("Database connection established")
	return store, nil
}

// NewGormStore wraps an existing connection (tests use the sqlite driver).
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	store := &GormStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *GormStore) migrate() error {
	err := s.db.AutoMigrate(
		&models.Team{},
		&models.TeamUtmMapping{},
		&models.AdSpendRecord{},
		&models.SaleEvent{},
		&models.LeadEvent{},
		&models.MetricsSnapshot{},
		&models.SyncHistoryEntry{},
	)
	if err != nil {
		return apperr.New(apperr.KindPersistence, "storage.migrate", err)
	}
	return nil
}

func (s *GormStore) UpsertSnapshot(ctx context.Context, snapshot *models.MetricsSnapshot) error {
	if err := snapshot.EncodeCampaigns(); err != nil {
		return apperr.New(apperr.KindPersistence, "storage.upsert_snapshot", err)
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "period"}},
		UpdateAll: true,
	}).Create(snapshot).Error
	if err != nil {
		return apperr.New(apperr.KindPersistence, "storage.upsert_snapshot", err)
	}
	return nil
}

func (s *GormStore) GetSnapshot(ctx context.Context, userID string, period models.Period) (*models.MetricsSnapshot, error) {
	var snapshot models.MetricsSnapshot
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND period = ?", userID, period).
		First(&snapshot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.New(apperr.KindPersistence, "storage.get_snapshot", err)
	}
	if err := snapshot.DecodeCampaigns(); err != nil {
		return nil, apperr.New(apperr.KindPersistence, "storage.get_snapshot", err)
	}
	return &snapshot, nil
}

func (s *GormStore) HasSnapshots(ctx context.Context) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.MetricsSnapshot{}).Count(&count).Error; err != nil {
		return false, apperr.New(apperr.KindPersistence, "storage.has_snapshots", err)
	}
	return count > 0, nil
}

func (s *GormStore) ListTeams(ctx context.Context) ([]models.Team, error) {
	var teams []models.Team
	err := s.db.WithContext(ctx).Where("is_active = ?", true).Find(&teams).Error
	if err != nil {
		return nil, apperr.New(apperr.KindPersistence, "storage.list_teams", err)
	}
	return teams, nil
}

// ListActiveMappings returns active rows ordered by id so the resolver's
// first-inserted tie-break is stable across engines.
func (s *GormStore) ListActiveMappings(ctx context.Context) ([]models.TeamUtmMapping, error) {
	var mappings []models.TeamUtmMapping
	err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("id ASC").
		Find(&mappings).Error
	if err != nil {
		return nil, apperr.New(apperr.KindPersistence, "storage.list_mappings", err)
	}
	return mappings, nil
}

func (s *GormStore) UpsertAdSpend(ctx context.Context, records []models.AdSpendRecord) error {
	if len(records) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "team"}, {Name: "date"}, {Name: "campaign_id"}},
		UpdateAll: true,
	}).Create(&records).Error
	if err != nil {
		return apperr.New(apperr.KindPersistence, "storage.upsert_ad_spend", err)
	}
	return nil
}

func (s *GormStore) ListSaleEvents(ctx context.Context, team string, rng models.DateRange) ([]models.SaleEvent, error) {
	q := s.db.WithContext(ctx).
		Where("occurred_at >= ? AND occurred_at < ?", rng.Since, rng.Until.AddDate(0, 0, 1))
	if team != "" {
		q = q.Where("team = ?", team)
	}
	var events []models.SaleEvent
	if err := q.Find(&events).Error; err != nil {
		return nil, apperr.New(apperr.KindPersistence, "storage.list_sales", err)
	}
	return events, nil
}

// InsertSaleEvents appends CRM sales, ignoring ids already present. Sale
// events are append-only; re-syncing a window must not duplicate rows.
func (s *GormStore) InsertSaleEvents(ctx context.Context, events []models.SaleEvent) error {
	if len(events) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&events).Error
	if err != nil {
		return apperr.New(apperr.KindPersistence, "storage.insert_sales", err)
	}
	return nil
}

func (s *GormStore) ListLeadEvents(ctx context.Context, rng models.DateRange) ([]models.LeadEvent, error) {
	var events []models.LeadEvent
	err := s.db.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", rng.Since, rng.Until.AddDate(0, 0, 1)).
		Find(&events).Error
	if err != nil {
		return nil, apperr.New(apperr.KindPersistence, "storage.list_leads", err)
	}
	return events, nil
}

func (s *GormStore) AppendSyncHistory(ctx context.Context, entry *models.SyncHistoryEntry) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return apperr.New(apperr.KindPersistence, "storage.sync_history", err)
	}
	return nil
}
