package participation

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Repository persists participation data in Postgres. Attendance is a
// separate table with a (event_id, user_id) unique key; conditional updates
// guarded by the expected prior status give the single-record
// compare-and-swap the lifecycle engine relies on.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates the schema.
func (r *Repository) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		email       TEXT UNIQUE NOT NULL,
		role        TEXT NOT NULL DEFAULT 'student',
		department  TEXT NOT NULL DEFAULT '',
		year        TEXT NOT NULL DEFAULT '',
		year_level  TEXT NOT NULL DEFAULT '',
		section     TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS events (
		id                TEXT PRIMARY KEY,
		title             TEXT NOT NULL,
		date              TIMESTAMPTZ NOT NULL,
		start_time        TEXT NOT NULL DEFAULT '',
		end_time          TEXT NOT NULL DEFAULT '',
		location          TEXT NOT NULL DEFAULT '',
		hours_value       DOUBLE PRECISION NOT NULL DEFAULT 0,
		requires_approval BOOLEAN NOT NULL DEFAULT TRUE,
		visible           BOOLEAN NOT NULL DEFAULT TRUE,
		status            TEXT NOT NULL DEFAULT 'active',
		departments       TEXT NOT NULL DEFAULT '',
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS attendance (
		id                  TEXT PRIMARY KEY,
		event_id            TEXT NOT NULL REFERENCES events(id),
		user_id             TEXT NOT NULL,
		requested_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		registration_status TEXT NOT NULL DEFAULT 'pending',
		time_in             TIMESTAMPTZ,
		time_out            TIMESTAMPTZ,
		attendance_status   TEXT NOT NULL DEFAULT 'not_started',
		UNIQUE (event_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id          TEXT PRIMARY KEY,
		sender      TEXT NOT NULL DEFAULT '',
		body        TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_attendance_user   ON attendance(user_id);
	CREATE INDEX IF NOT EXISTS idx_attendance_status ON attendance(attendance_status);
	`
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// Ping verifies store reachability.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return ErrStoreUnavailable
	}
	return nil
}

// -------- Events --------

// CreateEvent inserts a new event.
func (r *Repository) CreateEvent(ctx context.Context, evt Event) (Event, error) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Status == "" {
		evt.Status = EventActive
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO events (id, title, date, start_time, end_time, location, hours_value, requires_approval, visible, status, departments)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at
	`, evt.ID, evt.Title, evt.Date, evt.StartTime, evt.EndTime, evt.Location,
		evt.HoursValue, evt.RequiresApproval, evt.Visible, string(evt.Status), strings.Join(evt.Departments, ","))
	if err := row.Scan(&evt.CreatedAt); err != nil {
		return Event{}, err
	}
	return evt, nil
}

// FindEvent returns an event by id, or nil when missing.
func (r *Repository) FindEvent(ctx context.Context, eventID string) (*Event, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, title, date, start_time, end_time, location, hours_value, requires_approval, visible, status, departments, created_at
		FROM events WHERE id = $1
	`, eventID)
	evt, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return evt, nil
}

// ListEvents returns events, optionally restricted to discoverable ones
// (visible and not disabled).
func (r *Repository) ListEvents(ctx context.Context, discoverableOnly bool) ([]Event, error) {
	query := `
		SELECT id, title, date, start_time, end_time, location, hours_value, requires_approval, visible, status, departments, created_at
		FROM events`
	if discoverableOnly {
		query += ` WHERE visible AND status <> 'disabled'`
	}
	query += ` ORDER BY date DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *evt)
	}
	return events, rows.Err()
}

// UpdateEventStatus moves the event's operator-driven status. Independent
// of attendance-record transitions; never touches attendance rows.
func (r *Repository) UpdateEventStatus(ctx context.Context, eventID string, status EventStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE events SET status = $2 WHERE id = $1`, eventID, string(status))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateEventHours changes the hours value, refusing once any attendance
// record on the event is approved: credited hours must not silently change.
func (r *Repository) UpdateEventHours(ctx context.Context, eventID string, hours float64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE events SET hours_value = $2
		WHERE id = $1 AND NOT EXISTS (
			SELECT 1 FROM attendance WHERE event_id = $1 AND attendance_status = 'approved'
		)
	`, eventID, hours)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if evt, ferr := r.FindEvent(ctx, eventID); ferr == nil && evt == nil {
			return ErrNotFound
		}
		return ErrInvalidTransition
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*Event, error) {
	var evt Event
	var status, departments string
	if err := row.Scan(&evt.ID, &evt.Title, &evt.Date, &evt.StartTime, &evt.EndTime, &evt.Location,
		&evt.HoursValue, &evt.RequiresApproval, &evt.Visible, &status, &departments, &evt.CreatedAt); err != nil {
		return nil, err
	}
	evt.Status = EventStatus(status)
	if departments != "" {
		evt.Departments = strings.Split(departments, ",")
	}
	return &evt, nil
}

// -------- Users --------

// CreateUser inserts a new user.
func (r *Repository) CreateUser(ctx context.Context, u User) (User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = RoleStudent
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO users (id, name, email, role, department, year, year_level, section)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at
	`, u.ID, u.Name, u.Email, string(u.Role), u.Department, u.Year, u.YearLevel, u.Section)
	if err := row.Scan(&u.CreatedAt); err != nil {
		return User{}, err
	}
	return u, nil
}

// FindUser returns a user by id, or nil when missing.
func (r *Repository) FindUser(ctx context.Context, userID string) (*User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, email, role, department, year, year_level, section, created_at
		FROM users WHERE id = $1
	`, userID)
	var u User
	var role string
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &role, &u.Department, &u.Year, &u.YearLevel, &u.Section, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.Role = Role(role)
	return &u, nil
}

// -------- Attendance records --------

// FindRecord returns the attendance record for a (event, user) pair, or
// nil when missing.
func (r *Repository) FindRecord(ctx context.Context, eventID, userID string) (*AttendanceRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, event_id, user_id, requested_at, registration_status, time_in, time_out, attendance_status
		FROM attendance WHERE event_id = $1 AND user_id = $2
	`, eventID, userID)
	var rec AttendanceRecord
	var reg, att string
	if err := row.Scan(&rec.ID, &rec.EventID, &rec.UserID, &rec.RequestedAt, &reg, &rec.TimeIn, &rec.TimeOut, &att); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rec.RegistrationStatus = RegistrationStatus(reg)
	rec.AttendanceStatus = AttendanceStatus(att)
	return &rec, nil
}

// ListRecords returns all attendance records for an event in request order.
func (r *Repository) ListRecords(ctx context.Context, eventID string) ([]AttendanceRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event_id, user_id, requested_at, registration_status, time_in, time_out, attendance_status
		FROM attendance WHERE event_id = $1 ORDER BY requested_at
	`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var recs []AttendanceRecord
	for rows.Next() {
		var rec AttendanceRecord
		var reg, att string
		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.UserID, &rec.RequestedAt, &reg, &rec.TimeIn, &rec.TimeOut, &att); err != nil {
			return nil, err
		}
		rec.RegistrationStatus = RegistrationStatus(reg)
		rec.AttendanceStatus = AttendanceStatus(att)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// InsertRecord writes a new attendance record. The unique key on
// (event_id, user_id) turns a duplicate into ErrAlreadyRegistered.
func (r *Repository) InsertRecord(ctx context.Context, rec AttendanceRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance (id, event_id, user_id, requested_at, registration_status, attendance_status)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (event_id, user_id) DO NOTHING
	`, rec.ID, rec.EventID, rec.UserID, rec.RequestedAt, string(rec.RegistrationStatus), string(rec.AttendanceStatus))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlreadyRegistered
	}
	return nil
}

// DeleteRecord removes a record, but only while time-in is unset.
func (r *Repository) DeleteRecord(ctx context.Context, eventID, userID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM attendance WHERE event_id = $1 AND user_id = $2 AND time_in IS NULL
	`, eventID, userID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// UpdateRegistration applies a registration transition only from the
// expected prior status.
func (r *Repository) UpdateRegistration(ctx context.Context, eventID, userID string, expected, next RegistrationStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE attendance SET registration_status = $4
		WHERE event_id = $1 AND user_id = $2 AND registration_status = $3
	`, eventID, userID, string(expected), string(next))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkTimeIn sets time-in once, and only on an approved registration.
func (r *Repository) MarkTimeIn(ctx context.Context, eventID, userID string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE attendance SET time_in = $3
		WHERE event_id = $1 AND user_id = $2 AND registration_status = 'approved' AND time_in IS NULL
	`, eventID, userID, at)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkTimeOut sets time-out once and moves attendance to pending in the
// same write, so no observer can see a timed-out record that is not yet
// eligible for approval.
func (r *Repository) MarkTimeOut(ctx context.Context, eventID, userID string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE attendance SET time_out = $3, attendance_status = 'pending'
		WHERE event_id = $1 AND user_id = $2 AND time_in IS NOT NULL AND time_out IS NULL
	`, eventID, userID, at)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// UpdateAttendance applies an attendance transition only from the expected
// prior status. Two racing approvals resolve to one affected row.
func (r *Repository) UpdateAttendance(ctx context.Context, eventID, userID string, expected, next AttendanceStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE attendance SET attendance_status = $4
		WHERE event_id = $1 AND user_id = $2 AND attendance_status = $3
	`, eventID, userID, string(expected), string(next))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ApprovedHours sums credited hours for a user. Filters only on the
// attendance status: hours credited through an event survive the event
// later being disabled or completed.
func (r *Repository) ApprovedHours(ctx context.Context, userID string) (float64, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(e.hours_value), 0)
		FROM attendance a
		JOIN events e ON e.id = a.event_id
		WHERE a.user_id = $1 AND a.attendance_status = 'approved'
	`, userID)
	var total float64
	if err := row.Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}
