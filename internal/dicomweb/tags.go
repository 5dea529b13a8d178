package dicomweb

import "strings"

// VR is the DICOM value representation of an attribute. It governs how
// search criteria for the attribute are matched and how values are formatted.
type VR string

const (
	VRDate             VR = "DA"
	VRTime             VR = "TM"
	VRShortString      VR = "SH"
	VRLongString       VR = "LO"
	VRPersonName       VR = "PN"
	VRIntegerString    VR = "IS"
	VRCodeString       VR = "CS"
	VRUniqueIdentifier VR = "UI"
)

// Level is a position in the study/series/instance hierarchy.
type Level int

const (
	LevelStudy Level = iota
	LevelSeries
	LevelInstance
)

func (l Level) String() string {
	switch l {
	case LevelStudy:
		return "study"
	case LevelSeries:
		return "series"
	default:
		return "instance"
	}
}

// Tag describes one search attribute the archive understands: its DICOM
// keyword, hex tag, value representation and the database column it maps to.
type Tag struct {
	Keyword string
	Hex     string
	VR      VR
	Column  string
}

var studyTags = []Tag{
	{"StudyDate", "00080020", VRDate, "study_date"},
	{"StudyTime", "00080030", VRTime, "study_time"},
	{"AccessionNumber", "00080050", VRShortString, "accession_number"},
	{"ReferringPhysicianName", "00080090", VRPersonName, "referring_physician_name"},
	{"PatientName", "00100010", VRPersonName, "patient_name"},
	{"PatientID", "00100020", VRLongString, "patient_id"},
	{"StudyInstanceUID", "0020000D", VRUniqueIdentifier, "study_instance_uid"},
	{"StudyID", "00200010", VRShortString, "study_id"},
}

var seriesTags = []Tag{
	{"Modality", "00080060", VRCodeString, "modality"},
	{"SeriesInstanceUID", "0020000E", VRUniqueIdentifier, "series_instance_uid"},
	{"SeriesNumber", "00200011", VRIntegerString, "series_number"},
	{"PerformedProcedureStepStartDate", "00400244", VRDate, "performed_procedure_step_start_date"},
	{"PerformedProcedureStepStartTime", "00400245", VRTime, "performed_procedure_step_start_time"},
}

var instanceTags = []Tag{
	{"SOPClassUID", "00080016", VRUniqueIdentifier, "sop_class_uid"},
	{"SOPInstanceUID", "00080018", VRUniqueIdentifier, "sop_instance_uid"},
	{"InstanceNumber", "00200013", VRIntegerString, "instance_number"},
}

// SearchTags returns the attributes that can be matched at the given level.
func SearchTags(level Level) []Tag {
	switch level {
	case LevelStudy:
		return studyTags
	case LevelSeries:
		return seriesTags
	default:
		return instanceTags
	}
}

// FindTag looks up a search attribute by DICOM keyword or hex tag. Lookups
// are permissive: callers ignore attributes that are not found.
func FindTag(level Level, name string) (Tag, bool) {
	for _, t := range SearchTags(level) {
		if t.Keyword == name || strings.EqualFold(t.Hex, name) {
			return t, true
		}
	}
	return Tag{}, false
}
