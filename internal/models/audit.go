package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Audit actions recorded by the archive.
const (
	AuditActionStore    = "store"
	AuditActionRetrieve = "retrieve"
	AuditActionRendered = "rendered"
)

// AuditLog represents an audit log entry
type AuditLog struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Action            string    `gorm:"type:varchar(50);not null;index" json:"action"`
	StudyInstanceUID  string    `gorm:"column:study_instance_uid;type:varchar(64);index" json:"study_instance_uid,omitempty"`
	SeriesInstanceUID string    `gorm:"column:series_instance_uid;type:varchar(64)" json:"series_instance_uid,omitempty"`
	SOPInstanceUID    string    `gorm:"column:sop_instance_uid;type:varchar(64)" json:"sop_instance_uid,omitempty"`
	RemoteAddr        string    `gorm:"type:varchar(64)" json:"remote_addr,omitempty"`
	Status            string    `gorm:"type:varchar(20);index" json:"status"` // success, failure
	ErrorMessage      string    `gorm:"type:text" json:"error_message,omitempty"`
	Duration          int64     `json:"duration_ms"` // milliseconds
	CreatedAt         time.Time `gorm:"index" json:"timestamp"`
}

// TableName overrides the table name
func (AuditLog) TableName() string {
	return "audit_logs"
}

// BeforeCreate hook
func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
