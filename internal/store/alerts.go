package store

import (
	"context"

	"gorm.io/gorm"

	"github.com/civicsentinel/zonewatch/pkg/types"
)

// AlertRepository stores dispatched alerts and pages through their history.
type AlertRepository struct {
	db *gorm.DB
}

// NewAlertRepository creates a repository on the given connection.
func NewAlertRepository(db *gorm.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// Create inserts one alert.
func (r *AlertRepository) Create(ctx context.Context, a types.Alert) error {
	record := alertRecord(a)
	return r.db.WithContext(ctx).Create(&record).Error
}

// AlertFilter narrows List results. Zero values mean "no filter".
type AlertFilter struct {
	CameraID string
	ZoneID   int64
	Limit    int
	Offset   int
}

// List returns alerts newest first plus the total match count for paging.
func (r *AlertRepository) List(ctx context.Context, f AlertFilter) ([]types.Alert, int64, error) {
	query := r.db.WithContext(ctx).Model(&AlertRecord{})

	if f.CameraID != "" {
		query = query.Where("camera_id = ?", f.CameraID)
	}
	if f.ZoneID != 0 {
		query = query.Where("zone_id = ?", f.ZoneID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	var records []AlertRecord
	err := query.
		Order("timestamp DESC").
		Limit(limit).
		Offset(f.Offset).
		Find(&records).Error
	if err != nil {
		return nil, 0, err
	}

	alerts := make([]types.Alert, 0, len(records))
	for i := range records {
		alerts = append(alerts, records[i].toAlert())
	}
	return alerts, total, nil
}
