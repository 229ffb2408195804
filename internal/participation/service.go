package participation

import (
	"context"
	"errors"
	"log"
	"time"

	"servicehours/internal/notify"
)

// RecordStore is the persistence contract the engine runs against. Every
// conditional mutation is atomic on a single record: it applies only when
// the record is still in the expected prior state and reports whether it
// did. Two racing callers therefore resolve to one winner.
type RecordStore interface {
	FindEvent(ctx context.Context, eventID string) (*Event, error)
	FindUser(ctx context.Context, userID string) (*User, error)
	FindRecord(ctx context.Context, eventID, userID string) (*AttendanceRecord, error)
	// InsertRecord fails with ErrAlreadyRegistered when a record already
	// exists for the (event, user) pair.
	InsertRecord(ctx context.Context, rec AttendanceRecord) error
	// DeleteRecord removes the record only while time-in is unset.
	DeleteRecord(ctx context.Context, eventID, userID string) (bool, error)
	UpdateRegistration(ctx context.Context, eventID, userID string, expected, next RegistrationStatus) (bool, error)
	// MarkTimeIn applies only when registration is approved and no
	// time-in exists yet; MarkTimeOut only when time-in is set and no
	// time-out exists, and moves attendance to pending in the same write.
	MarkTimeIn(ctx context.Context, eventID, userID string, at time.Time) (bool, error)
	MarkTimeOut(ctx context.Context, eventID, userID string, at time.Time) (bool, error)
	UpdateAttendance(ctx context.Context, eventID, userID string, expected, next AttendanceStatus) (bool, error)
	// ApprovedHours sums hours_value over the user's approved attendance
	// records, regardless of current event status.
	ApprovedHours(ctx context.Context, userID string) (float64, error)
}

// Service enforces the attendance-record state machine. All state lives in
// the store; the service holds no mutable memory between calls.
type Service struct {
	store    RecordStore
	notifier notify.Notifier
}

// NewService creates the lifecycle engine.
func NewService(store RecordStore, notifier notify.Notifier) *Service {
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	return &Service{store: store, notifier: notifier}
}

// Register creates an attendance record for the user on the event. When the
// event does not require approval the registration is approved immediately,
// with no observable pending state and no notification.
func (s *Service) Register(ctx context.Context, eventID, userID string) (*AttendanceRecord, error) {
	evt, err := s.store.FindEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if evt == nil {
		return nil, ErrNotFound
	}
	if evt.Status != EventActive {
		return nil, ErrEventNotOpen
	}
	user, err := s.store.FindUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrNotFound
	}
	if !evt.OpenTo(user.Department) {
		return nil, ErrEventNotOpen
	}

	rec := AttendanceRecord{
		EventID:            eventID,
		UserID:             userID,
		RequestedAt:        time.Now().UTC(),
		RegistrationStatus: RegistrationPending,
		AttendanceStatus:   AttendanceNotStarted,
	}
	if !evt.RequiresApproval {
		rec.RegistrationStatus = RegistrationApproved
	}
	if err := s.store.InsertRecord(ctx, rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Unregister removes the record entirely. Legal only before time-in: no
// hours can have accrued, so a hard delete is safe.
func (s *Service) Unregister(ctx context.Context, eventID, userID string) error {
	deleted, err := s.store.DeleteRecord(ctx, eventID, userID)
	if err != nil {
		return err
	}
	if deleted {
		return nil
	}
	return s.diagnoseRecord(ctx, eventID, userID)
}

// ApproveRegistration moves a pending registration to approved and
// announces the outcome.
func (s *Service) ApproveRegistration(ctx context.Context, eventID, userID, actorID string) error {
	return s.decideRegistration(ctx, eventID, userID, actorID, RegistrationApproved, notify.RegistrationApproved)
}

// DisapproveRegistration rejects a pending registration. Terminal.
func (s *Service) DisapproveRegistration(ctx context.Context, eventID, userID, actorID string) error {
	return s.decideRegistration(ctx, eventID, userID, actorID, RegistrationDisapproved, notify.RegistrationDisapproved)
}

func (s *Service) decideRegistration(ctx context.Context, eventID, userID, actorID string, next RegistrationStatus, kind notify.Kind) error {
	changed, err := s.store.UpdateRegistration(ctx, eventID, userID, RegistrationPending, next)
	if err != nil {
		return err
	}
	if !changed {
		return s.diagnoseRecord(ctx, eventID, userID)
	}
	s.announce(ctx, kind, userID, eventID, actorID)
	return nil
}

// TimeIn records arrival. Requires an approved registration and no prior
// time-in. The timestamp is caller-supplied.
func (s *Service) TimeIn(ctx context.Context, eventID, userID string, at time.Time) error {
	changed, err := s.store.MarkTimeIn(ctx, eventID, userID, at.UTC())
	if err != nil {
		return err
	}
	if !changed {
		return s.diagnoseRecord(ctx, eventID, userID)
	}
	return nil
}

// TimeOut records departure and moves attendance to pending, making the
// record eligible for approval. Requires a prior time-in and no prior
// time-out.
func (s *Service) TimeOut(ctx context.Context, eventID, userID string, at time.Time) error {
	changed, err := s.store.MarkTimeOut(ctx, eventID, userID, at.UTC())
	if err != nil {
		return err
	}
	if !changed {
		return s.diagnoseRecord(ctx, eventID, userID)
	}
	return nil
}

// ApproveAttendance is the accrual boundary: the only operation that makes
// hours creditable. The conditional update keyed on the pending status makes
// it idempotent under race; a second concurrent call loses the compare-and-
// swap and gets ErrAlreadyProcessed, never a double credit.
func (s *Service) ApproveAttendance(ctx context.Context, eventID, userID, actorID string) error {
	return s.decideAttendance(ctx, eventID, userID, actorID, AttendanceApproved, notify.AttendanceApproved)
}

// DisapproveAttendance rejects pending attendance. Terminal.
func (s *Service) DisapproveAttendance(ctx context.Context, eventID, userID, actorID string) error {
	return s.decideAttendance(ctx, eventID, userID, actorID, AttendanceDisapproved, notify.AttendanceDisapproved)
}

func (s *Service) decideAttendance(ctx context.Context, eventID, userID, actorID string, next AttendanceStatus, kind notify.Kind) error {
	changed, err := s.store.UpdateAttendance(ctx, eventID, userID, AttendancePending, next)
	if err != nil {
		return err
	}
	if !changed {
		rec, err := s.store.FindRecord(ctx, eventID, userID)
		if err != nil {
			return err
		}
		if rec == nil {
			return ErrNotFound
		}
		switch rec.AttendanceStatus {
		case AttendanceApproved, AttendanceDisapproved:
			return ErrAlreadyProcessed
		default:
			return ErrInvalidTransition
		}
	}
	s.announce(ctx, kind, userID, eventID, actorID)
	return nil
}

// diagnoseRecord turns a lost conditional update into the specific error
// the caller can explain: missing record vs. illegal current state.
func (s *Service) diagnoseRecord(ctx context.Context, eventID, userID string) error {
	rec, err := s.store.FindRecord(ctx, eventID, userID)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrNotFound
	}
	return ErrInvalidTransition
}

// announce is fire-and-forget: the state change is the source of truth and
// delivery failures are logged, never propagated.
func (s *Service) announce(ctx context.Context, kind notify.Kind, recipientID, eventID, actorID string) {
	env := notify.Envelope{Kind: kind, RecipientID: recipientID, EventID: eventID, ActorID: actorID}
	if err := s.notifier.Notify(ctx, env); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("notify %s for user %s failed: %v", kind, recipientID, err)
	}
}
