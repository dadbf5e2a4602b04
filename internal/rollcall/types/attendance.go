package types

import "time"

// AttendanceRecord is one student's check-in. The JSON field names match
// the browser build's localStorage format so old exports can be loaded.
type AttendanceRecord struct {
	StudentID   string    `json:"studentId" bson:"studentId"`
	StudentName string    `json:"studentName" bson:"studentName"`
	Timestamp   time.Time `json:"timestamp" bson:"timestamp"`
}

// Payload is a decoded QR payload ("studentId:studentName").
type Payload struct {
	StudentID   string
	StudentName string
}

type ScanOutcome string

const (
	OutcomeRecorded  ScanOutcome = "recorded"
	OutcomeDuplicate ScanOutcome = "duplicate"
	OutcomeMalformed ScanOutcome = "malformed"
)

type ScanRequest struct {
	Payload string `json:"payload"`
}

type ScanResponse struct {
	OK      bool              `json:"ok"`
	Outcome ScanOutcome       `json:"outcome"`
	Message string            `json:"message"`
	Record  *AttendanceRecord `json:"record,omitempty"`
}
