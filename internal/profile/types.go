package profile

// Profile is the wellness profile of one user: body metrics, dietary and
// fitness goals, known conditions and the text of an uploaded medical report.
type Profile struct {
	UserID            string            `json:"user_id"`
	Age               string            `json:"age,omitempty"`
	Weight            string            `json:"weight,omitempty"`
	Height            string            `json:"height,omitempty"`
	DietType          string            `json:"diet_type,omitempty"`
	Goal              string            `json:"goal,omitempty"`
	HealthConditions  []string          `json:"health_conditions,omitempty"`
	MedicalReportName string            `json:"medical_report_name,omitempty"`
	MedicalReportText string            `json:"medical_report_text,omitempty"`
	Extra             map[string]string `json:"extra,omitempty"`
}

// Stored profile keys.
const (
	KeyAge               = "age"
	KeyWeight            = "weight"
	KeyHeight            = "height"
	KeyDietType          = "diet_type"
	KeyGoal              = "goal"
	KeyHealthConditions  = "health_conditions"
	KeyMedicalReportName = "medical_report_name"
	KeyMedicalReportText = "medical_report_text"
)

// HasReport reports whether a medical report has been uploaded.
func (p Profile) HasReport() bool {
	return p.MedicalReportText != ""
}
