package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/webitel/im-realtime-bench/internal/domain/model"
)

var _ Store = (*SQL)(nil)

// notificationRecord is the persisted row of a notification.
type notificationRecord struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	Message   string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;index"`
	Delivered bool      `gorm:"not null;default:false;index"`
}

func (notificationRecord) TableName() string { return "notifications" }

func (r notificationRecord) toDomain() model.Notification {
	return model.Notification{ID: r.ID, Message: r.Message, CreatedAt: r.CreatedAt.UTC(), Delivered: r.Delivered}
}

// metricsRecord is the persisted row of a channel's counters.
type metricsRecord struct {
	Channel           string    `gorm:"primaryKey"`
	RequestCount      int64     `gorm:"not null;default:0"`
	TotalLatencyMs    int64     `gorm:"not null;default:0"`
	NotificationCount int64     `gorm:"not null;default:0"`
	LastUpdate        time.Time `gorm:"not null"`
}

func (metricsRecord) TableName() string { return "performance_metrics" }

// SQL is a GORM-backed store on SQLite.
type SQL struct {
	db *gorm.DB
}

// OpenSQLite opens dsn and migrates the schema. A single connection keeps
// claim transactions serialized, which is what SQLite wants anyway.
func OpenSQLite(dsn string) (*SQL, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, model.WrapStorage("open sqlite", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, model.WrapStorage("open sqlite", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&notificationRecord{}, &metricsRecord{}); err != nil {
		_ = sqlDB.Close()
		return nil, model.WrapStorage("migrate", err)
	}
	return &SQL{db: db}, nil
}

func (s *SQL) Save(ctx context.Context, n model.Notification) (model.Notification, error) {
	rec := notificationRecord{Message: n.Message, CreatedAt: n.CreatedAt.UTC(), Delivered: n.Delivered}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return model.Notification{}, model.WrapStorage("save", err)
	}
	return rec.toDomain(), nil
}

func (s *SQL) After(ctx context.Context, since time.Time, markDelivered bool) ([]model.Notification, error) {
	return s.claim(ctx, markDelivered, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("created_at > ?", since.UTC()).Order("created_at DESC").Order("id DESC")
	})
}

func (s *SQL) Undelivered(ctx context.Context, markDelivered bool) ([]model.Notification, error) {
	return s.claim(ctx, markDelivered, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("delivered = ?", false).Order("created_at ASC").Order("id ASC")
	})
}

func (s *SQL) claim(ctx context.Context, mark bool, scope func(*gorm.DB) *gorm.DB) ([]model.Notification, error) {
	var recs []notificationRecord

	query := func(tx *gorm.DB) error {
		if err := scope(tx.Model(&notificationRecord{})).Find(&recs).Error; err != nil {
			return err
		}
		if !mark || len(recs) == 0 {
			return nil
		}
		ids := make([]int64, 0, len(recs))
		for i := range recs {
			ids = append(ids, recs[i].ID)
			recs[i].Delivered = true
		}
		return tx.Model(&notificationRecord{}).Where("id IN ?", ids).Update("delivered", true).Error
	}

	var err error
	if mark {
		err = s.db.WithContext(ctx).Transaction(query)
	} else {
		err = query(s.db.WithContext(ctx))
	}
	if err != nil {
		return nil, model.WrapStorage("query", err)
	}
	return toDomain(recs), nil
}

func (s *SQL) Latest(ctx context.Context, limit int) ([]model.Notification, error) {
	if limit <= 0 {
		return []model.Notification{}, nil
	}
	var recs []notificationRecord
	err := s.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Limit(limit).Find(&recs).Error
	if err != nil {
		return nil, model.WrapStorage("latest", err)
	}
	return toDomain(recs), nil
}

func (s *SQL) MarkDelivered(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Model(&notificationRecord{}).Where("id IN ?", ids).Update("delivered", true).Error
	return model.WrapStorage("mark delivered", err)
}

func (s *SQL) CountAfter(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&notificationRecord{}).Where("created_at > ?", since.UTC()).Count(&count).Error
	return count, model.WrapStorage("count", err)
}

func (s *SQL) CountUndelivered(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&notificationRecord{}).Where("delivered = ?", false).Count(&count).Error
	return count, model.WrapStorage("count", err)
}

func (s *SQL) Reset(ctx context.Context) error {
	err := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&notificationRecord{}).Error
	return model.WrapStorage("reset", err)
}

func (s *SQL) LoadMetrics(ctx context.Context) ([]model.PerformanceMetrics, error) {
	var recs []metricsRecord
	if err := s.db.WithContext(ctx).Find(&recs).Error; err != nil {
		return nil, model.WrapStorage("load metrics", err)
	}

	out := make([]model.PerformanceMetrics, 0, len(recs))
	for _, r := range recs {
		ch, err := model.ParseChannel(r.Channel)
		if err != nil {
			// rows from an older schema are skipped, not fatal
			continue
		}
		out = append(out, model.PerformanceMetrics{
			Channel:           ch,
			RequestCount:      r.RequestCount,
			TotalLatencyMs:    r.TotalLatencyMs,
			NotificationCount: r.NotificationCount,
			LastUpdate:        r.LastUpdate.UTC(),
		})
	}
	return out, nil
}

func (s *SQL) SaveMetrics(ctx context.Context, m model.PerformanceMetrics) error {
	rec := metricsRecord{
		Channel:           string(m.Channel),
		RequestCount:      m.RequestCount,
		TotalLatencyMs:    m.TotalLatencyMs,
		NotificationCount: m.NotificationCount,
		LastUpdate:        m.LastUpdate.UTC(),
	}
	return model.WrapStorage("save metrics", s.db.WithContext(ctx).Save(&rec).Error)
}

func (s *SQL) DeleteMetrics(ctx context.Context, ch model.Channel) error {
	err := s.db.WithContext(ctx).Delete(&metricsRecord{}, "channel = ?", string(ch)).Error
	return model.WrapStorage("delete metrics", err)
}

func (s *SQL) DeleteAllMetrics(ctx context.Context) error {
	err := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&metricsRecord{}).Error
	return model.WrapStorage("delete metrics", err)
}

func (s *SQL) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	if err := sqlDB.Close(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

func toDomain(recs []notificationRecord) []model.Notification {
	out := make([]model.Notification, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.toDomain())
	}
	return out
}
