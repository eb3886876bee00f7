package domain

import "time"

// Status is the lifecycle state of a tardy request. A request transitions
// exactly once, from pending to approved or rejected.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// User is an employee verified against the HR backend.
// ID is the Telegram user id stored as a string.
type User struct {
	ID           string
	Passport     string
	Birthdate    string // dd.mm.yyyy, as entered and verified
	FullName     string
	IsApprover   bool
	SupervisorID *string // Telegram id of the user's supervisor, may be unset
	RegisteredAt time.Time
}

// TardyRequest is a single tardiness report awaiting or past decision.
// ApproverID is captured at creation time and never re-derived, so a later
// supervisor reassignment does not affect in-flight requests.
type TardyRequest struct {
	ID          int64
	EmployeeID  string
	ApproverID  string
	Reason      string
	StartTime   string // HH:MM
	EndTime     string // HH:MM
	SubmittedAt string // local wall clock, see Clock.Stamp
	Status      Status
}
