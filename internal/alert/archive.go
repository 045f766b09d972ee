package alert

import (
	"context"
	"time"

	"github.com/algotrade/tradecore/internal/domain"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// alertRecord is the durable row gorm persists for one RiskAlert, retained
// past the Redis TTL horizon the hot-path Store enforces, per spec.md
// §4.9's requirement that alerts survive for audit beyond that window.
type alertRecord struct {
	ID             string `gorm:"primaryKey"`
	UserID         string `gorm:"index"`
	Type           string
	Level          string
	Message        string
	Timestamp      time.Time `gorm:"index"`
	Acknowledged   bool
	AcknowledgedAt *time.Time
}

func (alertRecord) TableName() string { return "alert_archive" }

// Archiver persists alerts to Postgres for retention beyond Redis's TTL,
// grounded on original_source/.../alert_service.py's durable alert table,
// using gorm (rather than the teacher's jmoiron/sqlx) for the AutoMigrate
// convenience a pure archival sink benefits from.
type Archiver struct {
	db *gorm.DB
}

// NewArchiver opens dsn and migrates the alert_archive table.
func NewArchiver(dsn string) (*Archiver, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&alertRecord{}); err != nil {
		return nil, err
	}
	return &Archiver{db: db}, nil
}

// Archive inserts a durable copy of a. Archival is best-effort: Store.Create
// never returns an archival failure to its caller, only logs it.
func (ar *Archiver) Archive(ctx context.Context, a domain.RiskAlert) error {
	rec := alertRecord{
		ID:             a.ID,
		UserID:         a.UserID,
		Type:           string(a.Type),
		Level:          string(a.Level),
		Message:        a.Message,
		Timestamp:      a.Timestamp,
		Acknowledged:   a.Acknowledged,
		AcknowledgedAt: a.AcknowledgedAt,
	}
	return ar.db.WithContext(ctx).Create(&rec).Error
}
