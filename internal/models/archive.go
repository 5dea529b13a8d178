package models

import "time"

// Study is one row of the study level of the hierarchy. It is created
// implicitly by the first instance stored under its UID and never mutated
// afterwards.
type Study struct {
	StudyInstanceUID       string    `gorm:"column:study_instance_uid;type:varchar(64);primaryKey" json:"study_instance_uid"`
	StudyDate              string    `gorm:"type:varchar(8)" json:"study_date"`
	StudyTime              string    `gorm:"type:varchar(14)" json:"study_time"`
	AccessionNumber        string    `gorm:"type:varchar(16)" json:"accession_number"`
	ReferringPhysicianName string    `gorm:"type:varchar(324)" json:"referring_physician_name"`
	PatientName            string    `gorm:"type:varchar(324)" json:"patient_name"`
	PatientID              string    `gorm:"type:varchar(64)" json:"patient_id"`
	StudyID                string    `gorm:"type:varchar(16)" json:"study_id"`
	CreatedAt              time.Time `json:"created_at"`
}

// TableName overrides the table name
func (Study) TableName() string {
	return "studies"
}

// Series is one row of the series level, foreign-keyed to exactly one study.
type Series struct {
	SeriesInstanceUID               string    `gorm:"column:series_instance_uid;type:varchar(64);primaryKey" json:"series_instance_uid"`
	StudyInstanceUID                string    `gorm:"column:study_instance_uid;type:varchar(64);not null;index" json:"study_instance_uid"`
	Modality                        string    `gorm:"type:varchar(16)" json:"modality"`
	SeriesNumber                    string    `gorm:"type:varchar(12)" json:"series_number"`
	PerformedProcedureStepStartDate string    `gorm:"type:varchar(8)" json:"performed_procedure_step_start_date"`
	PerformedProcedureStepStartTime string    `gorm:"type:varchar(14)" json:"performed_procedure_step_start_time"`
	CreatedAt                       time.Time `json:"created_at"`

	Study *Study `gorm:"foreignKey:StudyInstanceUID;references:StudyInstanceUID" json:"-"`
}

// TableName overrides the table name
func (Series) TableName() string {
	return "series"
}

// Instance is one stored SOP instance, the atomic unit of storage and of
// STOW-RS success reporting. CreatedAt is the stable tie-breaker for the
// representative-instance ordering.
type Instance struct {
	SOPInstanceUID    string    `gorm:"column:sop_instance_uid;type:varchar(64);primaryKey" json:"sop_instance_uid"`
	SOPClassUID       string    `gorm:"column:sop_class_uid;type:varchar(64)" json:"sop_class_uid"`
	SeriesInstanceUID string    `gorm:"column:series_instance_uid;type:varchar(64);not null;index" json:"series_instance_uid"`
	StudyInstanceUID  string    `gorm:"column:study_instance_uid;type:varchar(64);not null;index" json:"study_instance_uid"`
	InstanceNumber    string    `gorm:"type:varchar(12)" json:"instance_number"`
	Path              string    `gorm:"type:varchar(255);not null" json:"path"`
	CreatedAt         time.Time `gorm:"index" json:"created_at"`

	Series *Series `gorm:"foreignKey:SeriesInstanceUID;references:SeriesInstanceUID" json:"-"`
}

// TableName overrides the table name
func (Instance) TableName() string {
	return "instances"
}
