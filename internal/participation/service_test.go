package participation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"servicehours/internal/notify"
)

type recordingNotifier struct {
	mu        sync.Mutex
	envelopes []notify.Envelope
}

func (n *recordingNotifier) Notify(_ context.Context, env notify.Envelope) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.envelopes = append(n.envelopes, env)
	return nil
}

func (n *recordingNotifier) kinds() []notify.Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	kinds := make([]notify.Kind, len(n.envelopes))
	for i, env := range n.envelopes {
		kinds[i] = env.Kind
	}
	return kinds
}

type failingNotifier struct{}

func (failingNotifier) Notify(context.Context, notify.Envelope) error {
	return errors.New("sink down")
}

func newTestStore() *memStore {
	store := newMemStore()
	store.putEvent(Event{
		ID:               "evt-1",
		Title:            "Beach Cleanup",
		HoursValue:       5,
		RequiresApproval: true,
		Visible:          true,
		Status:           EventActive,
	})
	store.putEvent(Event{
		ID:               "evt-open",
		Title:            "Food Drive",
		HoursValue:       3,
		RequiresApproval: false,
		Visible:          true,
		Status:           EventActive,
	})
	store.putUser(User{ID: "user-1", Name: "Ana", Email: "ana@example.edu", Role: RoleStudent, Department: "Engineering"})
	store.putUser(User{ID: "user-2", Name: "Ben", Email: "ben@example.edu", Role: RoleStudent, Department: "Math"})
	return store
}

func TestRegisterRequiresApproval(t *testing.T) {
	store := newTestStore()
	svc := NewService(store, nil)

	rec, err := svc.Register(context.Background(), "evt-1", "user-1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if rec.RegistrationStatus != RegistrationPending {
		t.Fatalf("expected pending registration, got %s", rec.RegistrationStatus)
	}
	if rec.AttendanceStatus != AttendanceNotStarted {
		t.Fatalf("expected not_started attendance, got %s", rec.AttendanceStatus)
	}
}

func TestRegisterAutoApproval(t *testing.T) {
	store := newTestStore()
	notifier := &recordingNotifier{}
	svc := NewService(store, notifier)

	rec, err := svc.Register(context.Background(), "evt-open", "user-1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if rec.RegistrationStatus != RegistrationApproved {
		t.Fatalf("expected immediate approval, got %s", rec.RegistrationStatus)
	}
	stored := store.record("evt-open", "user-1")
	if stored == nil || stored.RegistrationStatus != RegistrationApproved {
		t.Fatal("no pending intermediate state should be observable")
	}
	if len(notifier.kinds()) != 0 {
		t.Fatal("auto-approval must not notify")
	}
}

func TestRegisterDuplicate(t *testing.T) {
	svc := NewService(newTestStore(), nil)
	if _, err := svc.Register(context.Background(), "evt-1", "user-1"); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, err := svc.Register(context.Background(), "evt-1", "user-1"); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestRegisterEventNotOpen(t *testing.T) {
	tests := []struct {
		name   string
		status EventStatus
	}{
		{name: "completed", status: EventCompleted},
		{name: "cancelled", status: EventCancelled},
		{name: "disabled", status: EventDisabled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore()
			store.setEventStatus("evt-1", tt.status)
			svc := NewService(store, nil)
			if _, err := svc.Register(context.Background(), "evt-1", "user-1"); !errors.Is(err, ErrEventNotOpen) {
				t.Fatalf("expected ErrEventNotOpen, got %v", err)
			}
		})
	}
}

func TestRegisterDepartmentScope(t *testing.T) {
	store := newTestStore()
	store.putEvent(Event{
		ID:          "evt-eng",
		Title:       "Lab Support",
		HoursValue:  2,
		Visible:     true,
		Status:      EventActive,
		Departments: []string{"Engineering"},
	})
	svc := NewService(store, nil)

	if _, err := svc.Register(context.Background(), "evt-eng", "user-1"); err != nil {
		t.Fatalf("in-scope register: %v", err)
	}
	if _, err := svc.Register(context.Background(), "evt-eng", "user-2"); !errors.Is(err, ErrEventNotOpen) {
		t.Fatalf("expected ErrEventNotOpen for out-of-scope department, got %v", err)
	}
}

func TestRegisterUnknownUser(t *testing.T) {
	svc := NewService(newTestStore(), nil)
	if _, err := svc.Register(context.Background(), "evt-1", "user-ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRegisterMissingEvent(t *testing.T) {
	svc := NewService(newTestStore(), nil)
	if _, err := svc.Register(context.Background(), "evt-missing", "user-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestApproveRegistrationNotifies(t *testing.T) {
	store := newTestStore()
	notifier := &recordingNotifier{}
	svc := NewService(store, notifier)

	mustRegister(t, svc, "evt-1", "user-1")
	if err := svc.ApproveRegistration(context.Background(), "evt-1", "user-1", "admin-1"); err != nil {
		t.Fatalf("approve registration: %v", err)
	}
	if rec := store.record("evt-1", "user-1"); rec.RegistrationStatus != RegistrationApproved {
		t.Fatalf("expected approved, got %s", rec.RegistrationStatus)
	}
	kinds := notifier.kinds()
	if len(kinds) != 1 || kinds[0] != notify.RegistrationApproved {
		t.Fatalf("expected one RegistrationApproved notification, got %v", kinds)
	}
}

func TestApproveRegistrationNotPending(t *testing.T) {
	store := newTestStore()
	svc := NewService(store, nil)
	mustRegister(t, svc, "evt-1", "user-1")
	mustApproveRegistration(t, svc, "evt-1", "user-1")

	if err := svc.ApproveRegistration(context.Background(), "evt-1", "user-1", "admin-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := svc.ApproveRegistration(context.Background(), "evt-1", "user-2", "admin-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing record, got %v", err)
	}
}

func TestDisapproveRegistrationTerminal(t *testing.T) {
	store := newTestStore()
	notifier := &recordingNotifier{}
	svc := NewService(store, notifier)
	mustRegister(t, svc, "evt-1", "user-1")

	if err := svc.DisapproveRegistration(context.Background(), "evt-1", "user-1", "admin-1"); err != nil {
		t.Fatalf("disapprove registration: %v", err)
	}
	if err := svc.ApproveRegistration(context.Background(), "evt-1", "user-1", "admin-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("disapproval is terminal, got %v", err)
	}
	if err := svc.TimeIn(context.Background(), "evt-1", "user-1", time.Now()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("time-in after disapproval must fail, got %v", err)
	}
}

func TestNotifierFailureDoesNotRollBack(t *testing.T) {
	store := newTestStore()
	svc := NewService(store, failingNotifier{})
	mustRegister(t, svc, "evt-1", "user-1")

	if err := svc.ApproveRegistration(context.Background(), "evt-1", "user-1", "admin-1"); err != nil {
		t.Fatalf("approval must succeed despite sink failure: %v", err)
	}
	if rec := store.record("evt-1", "user-1"); rec.RegistrationStatus != RegistrationApproved {
		t.Fatalf("state change must stick, got %s", rec.RegistrationStatus)
	}
}

func TestTimeInRequiresApprovedRegistration(t *testing.T) {
	svc := NewService(newTestStore(), nil)
	mustRegister(t, svc, "evt-1", "user-1")

	if err := svc.TimeIn(context.Background(), "evt-1", "user-1", time.Now()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition while pending, got %v", err)
	}
}

func TestTimeOutBeforeTimeIn(t *testing.T) {
	svc := NewService(newTestStore(), nil)
	mustRegister(t, svc, "evt-1", "user-1")
	mustApproveRegistration(t, svc, "evt-1", "user-1")

	if err := svc.TimeOut(context.Background(), "evt-1", "user-1", time.Now()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestTimeInTwice(t *testing.T) {
	svc := NewService(newTestStore(), nil)
	mustRegister(t, svc, "evt-1", "user-1")
	mustApproveRegistration(t, svc, "evt-1", "user-1")

	if err := svc.TimeIn(context.Background(), "evt-1", "user-1", time.Now()); err != nil {
		t.Fatalf("time-in: %v", err)
	}
	if err := svc.TimeIn(context.Background(), "evt-1", "user-1", time.Now()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on second time-in, got %v", err)
	}
}

func TestApproveAttendanceBeforeTimeOut(t *testing.T) {
	svc := NewService(newTestStore(), nil)
	mustRegister(t, svc, "evt-1", "user-1")
	mustApproveRegistration(t, svc, "evt-1", "user-1")
	if err := svc.TimeIn(context.Background(), "evt-1", "user-1", time.Now()); err != nil {
		t.Fatalf("time-in: %v", err)
	}

	if err := svc.ApproveAttendance(context.Background(), "evt-1", "user-1", "admin-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition before time-out, got %v", err)
	}
}

func TestUnregisterOnlyBeforeTimeIn(t *testing.T) {
	svc := NewService(newTestStore(), nil)
	mustRegister(t, svc, "evt-1", "user-1")
	mustApproveRegistration(t, svc, "evt-1", "user-1")
	if err := svc.TimeIn(context.Background(), "evt-1", "user-1", time.Now()); err != nil {
		t.Fatalf("time-in: %v", err)
	}

	if err := svc.Unregister(context.Background(), "evt-1", "user-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition after time-in, got %v", err)
	}
}

func TestUnregisterRemovesRecord(t *testing.T) {
	store := newTestStore()
	svc := NewService(store, nil)
	mustRegister(t, svc, "evt-1", "user-1")

	if err := svc.Unregister(context.Background(), "evt-1", "user-1"); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if store.record("evt-1", "user-1") != nil {
		t.Fatal("record must be hard-deleted")
	}
	if err := svc.Unregister(context.Background(), "evt-1", "user-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// Full walk of the state machine, ending with the disabled-event rule:
// credited hours survive the event being disabled afterwards.
func TestFullLifecycleAndDisabledEvent(t *testing.T) {
	store := newTestStore()
	notifier := &recordingNotifier{}
	svc := NewService(store, notifier)
	calc := NewCalculator(store, 0)
	ctx := context.Background()

	mustRegister(t, svc, "evt-1", "user-1")
	mustApproveRegistration(t, svc, "evt-1", "user-1")

	t1 := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	t2 := t1.Add(5 * time.Hour)
	if err := svc.TimeIn(ctx, "evt-1", "user-1", t1); err != nil {
		t.Fatalf("time-in: %v", err)
	}
	if err := svc.TimeOut(ctx, "evt-1", "user-1", t2); err != nil {
		t.Fatalf("time-out: %v", err)
	}
	if rec := store.record("evt-1", "user-1"); rec.AttendanceStatus != AttendancePending {
		t.Fatalf("expected pending attendance after time-out, got %s", rec.AttendanceStatus)
	}

	if err := svc.ApproveAttendance(ctx, "evt-1", "user-1", "admin-1"); err != nil {
		t.Fatalf("approve attendance: %v", err)
	}
	rec := store.record("evt-1", "user-1")
	if rec.AttendanceStatus != AttendanceApproved {
		t.Fatalf("expected approved attendance, got %s", rec.AttendanceStatus)
	}
	if rec.RegistrationStatus != RegistrationApproved {
		t.Fatal("approved attendance implies approved registration")
	}

	total, err := calc.TotalHours(ctx, "user-1")
	if err != nil {
		t.Fatalf("total hours: %v", err)
	}
	if total != 5 {
		t.Fatalf("expected 5 credited hours, got %g", total)
	}

	store.setEventStatus("evt-1", EventDisabled)
	total, err = calc.TotalHours(ctx, "user-1")
	if err != nil {
		t.Fatalf("total hours after disable: %v", err)
	}
	if total != 5 {
		t.Fatalf("disabling the event must not revoke credited hours, got %g", total)
	}

	kinds := notifier.kinds()
	if len(kinds) != 2 || kinds[0] != notify.RegistrationApproved || kinds[1] != notify.AttendanceApproved {
		t.Fatalf("unexpected notifications %v", kinds)
	}
}

func TestConcurrentApproveAttendance(t *testing.T) {
	store := newTestStore()
	svc := NewService(store, nil)
	calc := NewCalculator(store, 0)
	ctx := context.Background()

	mustRegister(t, svc, "evt-1", "user-1")
	mustApproveRegistration(t, svc, "evt-1", "user-1")
	if err := svc.TimeIn(ctx, "evt-1", "user-1", time.Now()); err != nil {
		t.Fatalf("time-in: %v", err)
	}
	if err := svc.TimeOut(ctx, "evt-1", "user-1", time.Now()); err != nil {
		t.Fatalf("time-out: %v", err)
	}

	const callers = 8
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- svc.ApproveAttendance(ctx, "evt-1", "user-1", "admin-1")
		}()
	}
	wg.Wait()
	close(errs)

	var wins, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrAlreadyProcessed):
			conflicts++
		default:
			t.Fatalf("unexpected error under race: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
	if conflicts != callers-1 {
		t.Fatalf("expected %d ErrAlreadyProcessed, got %d", callers-1, conflicts)
	}

	total, err := calc.TotalHours(ctx, "user-1")
	if err != nil {
		t.Fatalf("total hours: %v", err)
	}
	if total != 5 {
		t.Fatalf("hours credited once, expected 5, got %g", total)
	}
}

func TestDisapproveAttendanceTerminal(t *testing.T) {
	store := newTestStore()
	svc := NewService(store, nil)
	ctx := context.Background()

	mustRegister(t, svc, "evt-1", "user-1")
	mustApproveRegistration(t, svc, "evt-1", "user-1")
	if err := svc.TimeIn(ctx, "evt-1", "user-1", time.Now()); err != nil {
		t.Fatalf("time-in: %v", err)
	}
	if err := svc.TimeOut(ctx, "evt-1", "user-1", time.Now()); err != nil {
		t.Fatalf("time-out: %v", err)
	}
	if err := svc.DisapproveAttendance(ctx, "evt-1", "user-1", "admin-1"); err != nil {
		t.Fatalf("disapprove attendance: %v", err)
	}

	if err := svc.ApproveAttendance(ctx, "evt-1", "user-1", "admin-1"); !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("expected ErrAlreadyProcessed on decided record, got %v", err)
	}
}

func mustRegister(t *testing.T, svc *Service, eventID, userID string) {
	t.Helper()
	if _, err := svc.Register(context.Background(), eventID, userID); err != nil {
		t.Fatalf("register %s/%s: %v", eventID, userID, err)
	}
}

func mustApproveRegistration(t *testing.T, svc *Service, eventID, userID string) {
	t.Helper()
	if err := svc.ApproveRegistration(context.Background(), eventID, userID, "admin-1"); err != nil {
		t.Fatalf("approve registration %s/%s: %v", eventID, userID, err)
	}
}
