package participation

import "time"

// EventStatus is the operator-driven lifecycle state of an event.
type EventStatus string

const (
	EventActive    EventStatus = "active"
	EventCompleted EventStatus = "completed"
	EventCancelled EventStatus = "cancelled"
	EventDisabled  EventStatus = "disabled"
)

// Valid reports whether s is a known event status.
func (s EventStatus) Valid() bool {
	switch s {
	case EventActive, EventCompleted, EventCancelled, EventDisabled:
		return true
	}
	return false
}

// RegistrationStatus tracks a participant's registration on an event.
type RegistrationStatus string

const (
	RegistrationPending     RegistrationStatus = "pending"
	RegistrationApproved    RegistrationStatus = "approved"
	RegistrationDisapproved RegistrationStatus = "disapproved"
)

func (s RegistrationStatus) Valid() bool {
	switch s {
	case RegistrationPending, RegistrationApproved, RegistrationDisapproved:
		return true
	}
	return false
}

// AttendanceStatus tracks timed attendance through operator approval.
// It reaches pending only after both time-in and time-out are recorded.
type AttendanceStatus string

const (
	AttendanceNotStarted  AttendanceStatus = "not_started"
	AttendancePending     AttendanceStatus = "pending"
	AttendanceApproved    AttendanceStatus = "approved"
	AttendanceDisapproved AttendanceStatus = "disapproved"
)

func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendanceNotStarted, AttendancePending, AttendanceApproved, AttendanceDisapproved:
		return true
	}
	return false
}

// Role classifies users.
type Role string

const (
	RoleStudent Role = "student"
	RoleStaff   Role = "staff"
	RoleAdmin   Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleStaff, RoleAdmin:
		return true
	}
	return false
}

// Event is a scheduled activity participants register for and attend.
type Event struct {
	ID               string      `json:"id"`
	Title            string      `json:"title"`
	Date             time.Time   `json:"date"`
	StartTime        string      `json:"start_time"`
	EndTime          string      `json:"end_time"`
	Location         string      `json:"location"`
	HoursValue       float64     `json:"hours_value"`
	RequiresApproval bool        `json:"requires_approval"`
	Visible          bool        `json:"visible"`
	Status           EventStatus `json:"status"`
	Departments      []string    `json:"departments,omitempty"` // empty means open to all
	CreatedAt        time.Time   `json:"created_at"`
}

// OpenTo reports whether the event accepts registrations from a department.
func (e Event) OpenTo(department string) bool {
	if len(e.Departments) == 0 {
		return true
	}
	for _, d := range e.Departments {
		if d == department {
			return true
		}
	}
	return false
}

// AttendanceRecord is the per-participant, per-event state. Exactly one
// exists per (event, user) pair.
type AttendanceRecord struct {
	ID                 string             `json:"id"`
	EventID            string             `json:"event_id"`
	UserID             string             `json:"user_id"`
	RequestedAt        time.Time          `json:"requested_at"`
	RegistrationStatus RegistrationStatus `json:"registration_status"`
	TimeIn             *time.Time         `json:"time_in,omitempty"`
	TimeOut            *time.Time         `json:"time_out,omitempty"`
	AttendanceStatus   AttendanceStatus   `json:"attendance_status"`
}

// User is a participant. Hour totals are never stored on the user; they
// are always derived from approved attendance records.
type User struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Role       Role      `json:"role"`
	Department string    `json:"department,omitempty"`
	Year       string    `json:"year,omitempty"`
	YearLevel  string    `json:"year_level,omitempty"`
	Section    string    `json:"section,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// CohortStat is one row of a department or academic-year rollup.
type CohortStat struct {
	Key      string `json:"key"`
	Students int    `json:"students"`
	Events   int    `json:"events"`
}

// CompletedUser is one roster entry of participants at or past the
// completion threshold.
type CompletedUser struct {
	UserID     string  `json:"user_id"`
	Name       string  `json:"name"`
	Department string  `json:"department"`
	Year       string  `json:"year"`
	Section    string  `json:"section"`
	Hours      float64 `json:"hours"`
}
