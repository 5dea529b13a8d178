package models

// QIDO-RS result objects. JSON keys are the hex DICOM tags of the attributes,
// matching the application/dicom+json convention used by viewers.

// StudyResult represents one study in a QIDO-RS response, joined with the
// derived aggregate attributes.
type StudyResult struct {
	StudyInstanceUID              string   `json:"0020000D"`
	StudyDate                     string   `json:"00080020,omitempty"`
	StudyTime                     string   `json:"00080030,omitempty"`
	AccessionNumber               string   `json:"00080050,omitempty"`
	ReferringPhysicianName        string   `json:"00080090,omitempty"`
	PatientName                   string   `json:"00100010,omitempty"`
	PatientID                     string   `json:"00100020,omitempty"`
	StudyID                       string   `json:"00200010,omitempty"`
	ModalitiesInStudy             []string `json:"00080061"`
	NumberOfStudyRelatedSeries    int      `json:"00201206"`
	NumberOfStudyRelatedInstances int      `json:"00201208"`
	RetrieveURL                   string   `json:"00081190,omitempty"`
}

// SeriesResult represents one series in a QIDO-RS response.
type SeriesResult struct {
	SeriesInstanceUID               string `json:"0020000E"`
	Modality                        string `json:"00080060,omitempty"`
	SeriesNumber                    string `json:"00200011,omitempty"`
	PerformedProcedureStepStartDate string `json:"00400244,omitempty"`
	PerformedProcedureStepStartTime string `json:"00400245,omitempty"`
	NumberOfSeriesRelatedInstances  int    `json:"00201209"`
	RetrieveURL                     string `json:"00081190,omitempty"`
}

// InstanceResult represents one SOP instance in a QIDO-RS response.
type InstanceResult struct {
	SOPClassUID    string `json:"00080016"`
	SOPInstanceUID string `json:"00080018"`
	InstanceNumber string `json:"00200013,omitempty"`
	RetrieveURL    string `json:"00081190,omitempty"`
}
