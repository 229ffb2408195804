package participation

import (
	"context"
	"sync"
	"time"
)

// memStore is an in-memory RecordStore with the same conditional-update
// semantics as the Postgres repository: every mutation checks the expected
// prior state under one lock, so races resolve to a single winner.
type memStore struct {
	mu      sync.Mutex
	events  map[string]*Event
	users   map[string]*User
	records map[string]*AttendanceRecord // keyed eventID + "/" + userID
}

func newMemStore() *memStore {
	return &memStore{
		events:  make(map[string]*Event),
		users:   make(map[string]*User),
		records: make(map[string]*AttendanceRecord),
	}
}

func (m *memStore) putUser(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := u
	m.users[u.ID] = &cp
}

func (m *memStore) putEvent(evt Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := evt
	m.events[evt.ID] = &e
}

func (m *memStore) setEventStatus(eventID string, status EventStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if evt, ok := m.events[eventID]; ok {
		evt.Status = status
	}
}

func (m *memStore) record(eventID, userID string) *AttendanceRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[eventID+"/"+userID]; ok {
		cp := *rec
		return &cp
	}
	return nil
}

func (m *memStore) FindEvent(_ context.Context, eventID string) (*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if evt, ok := m.events[eventID]; ok {
		cp := *evt
		return &cp, nil
	}
	return nil, nil
}

func (m *memStore) FindUser(_ context.Context, userID string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (m *memStore) FindRecord(_ context.Context, eventID, userID string) (*AttendanceRecord, error) {
	return m.record(eventID, userID), nil
}

func (m *memStore) InsertRecord(_ context.Context, rec AttendanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := rec.EventID + "/" + rec.UserID
	if _, ok := m.records[key]; ok {
		return ErrAlreadyRegistered
	}
	cp := rec
	m.records[key] = &cp
	return nil
}

func (m *memStore) DeleteRecord(_ context.Context, eventID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := eventID + "/" + userID
	rec, ok := m.records[key]
	if !ok || rec.TimeIn != nil {
		return false, nil
	}
	delete(m.records, key)
	return true, nil
}

func (m *memStore) UpdateRegistration(_ context.Context, eventID, userID string, expected, next RegistrationStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[eventID+"/"+userID]
	if !ok || rec.RegistrationStatus != expected {
		return false, nil
	}
	rec.RegistrationStatus = next
	return true, nil
}

func (m *memStore) MarkTimeIn(_ context.Context, eventID, userID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[eventID+"/"+userID]
	if !ok || rec.RegistrationStatus != RegistrationApproved || rec.TimeIn != nil {
		return false, nil
	}
	rec.TimeIn = &at
	return true, nil
}

func (m *memStore) MarkTimeOut(_ context.Context, eventID, userID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[eventID+"/"+userID]
	if !ok || rec.TimeIn == nil || rec.TimeOut != nil {
		return false, nil
	}
	rec.TimeOut = &at
	rec.AttendanceStatus = AttendancePending
	return true, nil
}

func (m *memStore) UpdateAttendance(_ context.Context, eventID, userID string, expected, next AttendanceStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[eventID+"/"+userID]
	if !ok || rec.AttendanceStatus != expected {
		return false, nil
	}
	rec.AttendanceStatus = next
	return true, nil
}

func (m *memStore) ApprovedHours(_ context.Context, userID string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total float64
	for _, rec := range m.records {
		if rec.UserID != userID || rec.AttendanceStatus != AttendanceApproved {
			continue
		}
		if evt, ok := m.events[rec.EventID]; ok {
			total += evt.HoursValue
		}
	}
	return total, nil
}
