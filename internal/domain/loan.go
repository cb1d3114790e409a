package domain

import "encoding/json"

// LoanApplication is the applicant payload accepted by /predict and
// /check-eligibility. Field names follow the backend's column names.
type LoanApplication struct {
	Gender            string  `json:"Gender"`
	Married           string  `json:"Married"`
	Dependents        string  `json:"Dependents"`
	Education         string  `json:"Education"`
	SelfEmployed      string  `json:"Self_Employed"`
	ApplicantIncome   float64 `json:"ApplicantIncome"`
	CoapplicantIncome float64 `json:"CoapplicantIncome"`
	LoanAmount        float64 `json:"LoanAmount"`
	LoanAmountTerm    float64 `json:"Loan_Amount_Term"`
	CreditHistory     int     `json:"Credit_History"`
	PropertyArea      string  `json:"Property_Area"`
}

// Prediction is the model verdict for one application.
type Prediction struct {
	Prediction  int                `json:"prediction"`
	Probability float64            `json:"probability"`
	RiskLevel   string             `json:"risk_level"`
	Explanation map[string]float64 `json:"explanation,omitempty"`
}

// Approved reports whether the model predicted approval.
func (p Prediction) Approved() bool {
	return p.Prediction == 1
}

// Stats is the dashboard summary returned by /stats.
type Stats struct {
	TotalApplications int `json:"total_applications"`
	Approved          int `json:"approved"`
	Rejected          int `json:"rejected"`
}

// DriftStatus is the rolling accuracy report returned by /drift-status.
type DriftStatus struct {
	DriftDetected    bool     `json:"drift_detected"`
	Accuracy7d       *float64 `json:"accuracy_7d"`
	AccuracyBaseline float64  `json:"accuracy_baseline"`
	SampleSize       int      `json:"sample_size"`
	Message          string   `json:"message,omitempty"`
	Error            string   `json:"error,omitempty"`
}

// User is an entry of /admin/users.
type User struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Role     Role   `json:"role"`
}

// Identity is the caller as reported by /me.
type Identity struct {
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// Application rows, analytics rows, audit events and model info are rendered
// as-is, so they stay raw JSON.
type (
	ApplicationRecord = json.RawMessage
	AnalyticsRow      = json.RawMessage
	AuditEvent        = json.RawMessage
)

// AnalyticsKind selects one of the /analytics/* reports.
type AnalyticsKind string

const (
	AnalyticsTrends       AnalyticsKind = "trends"
	AnalyticsIncome       AnalyticsKind = "income-bracket"
	AnalyticsRisk         AnalyticsKind = "risk"
	AnalyticsLoanAmount   AnalyticsKind = "loan-amount"
	AnalyticsPropertyArea AnalyticsKind = "property-area"
)

// AnalyticsKinds lists every report the backend serves.
var AnalyticsKinds = []AnalyticsKind{
	AnalyticsTrends,
	AnalyticsIncome,
	AnalyticsRisk,
	AnalyticsLoanAmount,
	AnalyticsPropertyArea,
}

// Valid reports whether k names a known report.
func (k AnalyticsKind) Valid() bool {
	for _, known := range AnalyticsKinds {
		if k == known {
			return true
		}
	}
	return false
}
