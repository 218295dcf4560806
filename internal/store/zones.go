package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/civicsentinel/zonewatch/pkg/types"
)

// ZoneRepository stores and retrieves zones.
type ZoneRepository struct {
	db *gorm.DB
}

// NewZoneRepository creates a repository on the given connection.
func NewZoneRepository(db *gorm.DB) *ZoneRepository {
	return &ZoneRepository{db: db}
}

// List returns every zone for a camera, newest first.
func (r *ZoneRepository) List(ctx context.Context, cameraID string) ([]types.Zone, error) {
	var records []ZoneRecord
	err := r.db.WithContext(ctx).
		Where("camera_id = ?", cameraID).
		Order("id DESC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return toZones(records)
}

// ListActive returns only the zones the engine should evaluate.
func (r *ZoneRepository) ListActive(ctx context.Context, cameraID string) ([]types.Zone, error) {
	var records []ZoneRecord
	err := r.db.WithContext(ctx).
		Where("camera_id = ? AND active = ?", cameraID, true).
		Order("id").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return toZones(records)
}

// Get returns one zone by id.
func (r *ZoneRepository) Get(ctx context.Context, id int64) (types.Zone, error) {
	var record ZoneRecord
	err := r.db.WithContext(ctx).First(&record, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.Zone{}, fmt.Errorf("%w: zone %d", ErrNotFound, id)
	}
	if err != nil {
		return types.Zone{}, err
	}
	return record.toZone()
}

// Create inserts a zone and fills in its assigned id.
func (r *ZoneRepository) Create(ctx context.Context, z *types.Zone) error {
	record, err := zoneRecord(*z)
	if err != nil {
		return err
	}
	record.ID = 0
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		return err
	}
	z.ID = record.ID
	return nil
}

// Update overwrites an existing zone.
func (r *ZoneRepository) Update(ctx context.Context, z types.Zone) error {
	record, err := zoneRecord(z)
	if err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Model(&ZoneRecord{}).
		Where("id = ?", z.ID).
		Updates(map[string]interface{}{
			"name":        record.Name,
			"coordinates": record.Coordinates,
			"alert_type":  record.AlertType,
			"active":      record.Active,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: zone %d", ErrNotFound, z.ID)
	}
	return nil
}

// Delete removes a zone by id.
func (r *ZoneRepository) Delete(ctx context.Context, id int64) error {
	res := r.db.WithContext(ctx).Delete(&ZoneRecord{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: zone %d", ErrNotFound, id)
	}
	return nil
}

func toZones(records []ZoneRecord) ([]types.Zone, error) {
	zones := make([]types.Zone, 0, len(records))
	for i := range records {
		z, err := records[i].toZone()
		if err != nil {
			return nil, err
		}
		zones = append(zones, z)
	}
	return zones, nil
}
