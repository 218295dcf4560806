package store

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/civicsentinel/zonewatch/pkg/types"
)

// ZoneRecord is the persisted form of a zone. Coordinates are stored as a
// JSON array of {x, y} objects.
type ZoneRecord struct {
	ID          int64          `gorm:"primaryKey"`
	CameraID    string         `gorm:"not null;index"`
	Name        string         `gorm:"not null"`
	Coordinates datatypes.JSON `gorm:"not null"`
	AlertType   string         `gorm:"not null;default:intrusion"`
	Active      bool           `gorm:"not null;default:true"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (ZoneRecord) TableName() string { return "zones" }

// AlertRecord is one dispatched zone violation alert.
type AlertRecord struct {
	ID            string    `gorm:"primaryKey"`
	CameraID      string    `gorm:"not null;index"`
	ZoneID        int64     `gorm:"not null;index"`
	ZoneName      string    `gorm:"not null"`
	AlertType     string    `gorm:"not null"`
	DetectionType string    `gorm:"not null"`
	Confidence    float64   `gorm:"not null"`
	SnapshotPath  *string
	Timestamp     time.Time `gorm:"not null;index"`
	CreatedAt     time.Time
}

func (AlertRecord) TableName() string { return "alerts" }

func (r *ZoneRecord) toZone() (types.Zone, error) {
	var vertices []types.Point
	if err := json.Unmarshal(r.Coordinates, &vertices); err != nil {
		return types.Zone{}, fmt.Errorf("decode zone %d coordinates: %w", r.ID, err)
	}
	return types.Zone{
		ID:        r.ID,
		CameraID:  r.CameraID,
		Name:      r.Name,
		Vertices:  vertices,
		AlertType: r.AlertType,
		Active:    r.Active,
	}, nil
}

func zoneRecord(z types.Zone) (ZoneRecord, error) {
	coords, err := json.Marshal(z.Vertices)
	if err != nil {
		return ZoneRecord{}, fmt.Errorf("encode zone coordinates: %w", err)
	}
	return ZoneRecord{
		ID:          z.ID,
		CameraID:    z.CameraID,
		Name:        z.Name,
		Coordinates: coords,
		AlertType:   z.AlertType,
		Active:      z.Active,
	}, nil
}

func (r *AlertRecord) toAlert() types.Alert {
	a := types.Alert{
		ID:            r.ID,
		CameraID:      r.CameraID,
		ZoneID:        r.ZoneID,
		ZoneName:      r.ZoneName,
		AlertType:     r.AlertType,
		DetectionType: r.DetectionType,
		Confidence:    r.Confidence,
		Timestamp:     r.Timestamp,
	}
	if r.SnapshotPath != nil {
		a.SnapshotPath = *r.SnapshotPath
	}
	return a
}

func alertRecord(a types.Alert) AlertRecord {
	rec := AlertRecord{
		ID:            a.ID,
		CameraID:      a.CameraID,
		ZoneID:        a.ZoneID,
		ZoneName:      a.ZoneName,
		AlertType:     a.AlertType,
		DetectionType: a.DetectionType,
		Confidence:    a.Confidence,
		Timestamp:     a.Timestamp,
		CreatedAt:     time.Now(),
	}
	if a.SnapshotPath != "" {
		rec.SnapshotPath = &a.SnapshotPath
	}
	return rec
}
