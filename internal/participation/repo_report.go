package participation

import (
	"context"
	"time"
)

// Read-only rollup queries feeding the aggregation engine. None of these
// mutate state; each is an independent scan the report layer may time out
// and degrade individually.

// CountUsers returns the total number of users.
func (r *Repository) CountUsers(ctx context.Context) (int, error) {
	return r.countRow(ctx, `SELECT COUNT(*) FROM users`)
}

// CountEvents returns the number of discoverable events (visible, not
// disabled).
func (r *Repository) CountEvents(ctx context.Context) (int, error) {
	return r.countRow(ctx, `SELECT COUNT(*) FROM events WHERE visible AND status <> 'disabled'`)
}

// CountAttendance returns the total number of attendance records.
func (r *Repository) CountAttendance(ctx context.Context) (int, error) {
	return r.countRow(ctx, `SELECT COUNT(*) FROM attendance`)
}

// CountMessages returns the total number of messages.
func (r *Repository) CountMessages(ctx context.Context) (int, error) {
	return r.countRow(ctx, `SELECT COUNT(*) FROM messages`)
}

// CountApprovedAttendance returns the number of approved attendance records.
func (r *Repository) CountApprovedAttendance(ctx context.Context) (int, error) {
	return r.countRow(ctx, `SELECT COUNT(*) FROM attendance WHERE attendance_status = 'approved'`)
}

// CountUsersByRole returns user counts keyed by role.
func (r *Repository) CountUsersByRole(ctx context.Context) (map[Role]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT role, COUNT(*) FROM users GROUP BY role`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[Role]int)
	for rows.Next() {
		var role string
		var n int
		if err := rows.Scan(&role, &n); err != nil {
			return nil, err
		}
		counts[Role(role)] = n
	}
	return counts, rows.Err()
}

// CountEventsByStatus returns event counts keyed by status, excluding
// disabled events.
func (r *Repository) CountEventsByStatus(ctx context.Context) (map[EventStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM events WHERE status <> 'disabled' GROUP BY status
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[EventStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[EventStatus(status)] = n
	}
	return counts, rows.Err()
}

// TotalApprovedHours sums credited hours across all users in one pass.
func (r *Repository) TotalApprovedHours(ctx context.Context) (float64, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(e.hours_value), 0)
		FROM attendance a
		JOIN events e ON e.id = a.event_id
		WHERE a.attendance_status = 'approved'
	`)
	var total float64
	err := row.Scan(&total)
	return total, err
}

// CountEventsSince returns the number of events created at or after t.
func (r *Repository) CountEventsSince(ctx context.Context, t time.Time) (int, error) {
	return r.countRow(ctx, `SELECT COUNT(*) FROM events WHERE created_at >= $1`, t)
}

// CountUsersSince returns the number of users created at or after t.
func (r *Repository) CountUsersSince(ctx context.Context, t time.Time) (int, error) {
	return r.countRow(ctx, `SELECT COUNT(*) FROM users WHERE created_at >= $1`, t)
}

// EventsPerDay returns counts of events created per calendar day since t,
// keyed by YYYY-MM-DD. Days with no events are absent; the report layer
// zero-fills.
func (r *Repository) EventsPerDay(ctx context.Context, t time.Time) (map[string]int, error) {
	return r.perDay(ctx, `
		SELECT to_char(created_at, 'YYYY-MM-DD'), COUNT(*)
		FROM events WHERE created_at >= $1 GROUP BY 1
	`, t)
}

// UsersPerDay returns counts of users created per calendar day since t,
// keyed by YYYY-MM-DD.
func (r *Repository) UsersPerDay(ctx context.Context, t time.Time) (map[string]int, error) {
	return r.perDay(ctx, `
		SELECT to_char(created_at, 'YYYY-MM-DD'), COUNT(*)
		FROM users WHERE created_at >= $1 GROUP BY 1
	`, t)
}

// DepartmentRollup returns, per department, the student count and the
// number of distinct events that cohort has approved attendance on. Blank
// departments report as "N/A" so rollup tables stay rectangular.
func (r *Repository) DepartmentRollup(ctx context.Context) ([]CohortStat, error) {
	return r.cohortRollup(ctx, `
		SELECT COALESCE(NULLIF(u.department, ''), 'N/A'),
		       COUNT(DISTINCT u.id),
		       COUNT(DISTINCT a.event_id)
		FROM users u
		LEFT JOIN attendance a ON a.user_id = u.id AND a.attendance_status = 'approved'
		WHERE u.role = 'student'
		GROUP BY 1 ORDER BY 1
	`)
}

// YearRollup is the academic-year counterpart of DepartmentRollup.
func (r *Repository) YearRollup(ctx context.Context) ([]CohortStat, error) {
	return r.cohortRollup(ctx, `
		SELECT COALESCE(NULLIF(u.year, ''), 'N/A'),
		       COUNT(DISTINCT u.id),
		       COUNT(DISTINCT a.event_id)
		FROM users u
		LEFT JOIN attendance a ON a.user_id = u.id AND a.attendance_status = 'approved'
		WHERE u.role = 'student'
		GROUP BY 1 ORDER BY 1
	`)
}

// CompletedUsers returns every user whose credited hours meet the
// threshold, highest totals first.
func (r *Repository) CompletedUsers(ctx context.Context, threshold float64) ([]CompletedUser, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT u.id, u.name,
		       COALESCE(NULLIF(u.department, ''), 'N/A'),
		       COALESCE(NULLIF(u.year, ''), 'N/A'),
		       COALESCE(NULLIF(u.section, ''), 'N/A'),
		       SUM(e.hours_value) AS hours
		FROM users u
		JOIN attendance a ON a.user_id = u.id AND a.attendance_status = 'approved'
		JOIN events e ON e.id = a.event_id
		GROUP BY u.id, u.name, u.department, u.year, u.section
		HAVING SUM(e.hours_value) >= $1
		ORDER BY hours DESC
	`, threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roster []CompletedUser
	for rows.Next() {
		var cu CompletedUser
		if err := rows.Scan(&cu.UserID, &cu.Name, &cu.Department, &cu.Year, &cu.Section, &cu.Hours); err != nil {
			return nil, err
		}
		roster = append(roster, cu)
	}
	return roster, rows.Err()
}

func (r *Repository) countRow(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

func (r *Repository) perDay(ctx context.Context, query string, t time.Time) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, query, t)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var day string
		var n int
		if err := rows.Scan(&day, &n); err != nil {
			return nil, err
		}
		counts[day] = n
	}
	return counts, rows.Err()
}

func (r *Repository) cohortRollup(ctx context.Context, query string) ([]CohortStat, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var stats []CohortStat
	for rows.Next() {
		var cs CohortStat
		if err := rows.Scan(&cs.Key, &cs.Students, &cs.Events); err != nil {
			return nil, err
		}
		stats = append(stats, cs)
	}
	return stats, rows.Err()
}
