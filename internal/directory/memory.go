package directory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory. It backs tests and the
// memory:// connection string.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record), now: time.Now}
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *MemoryStore) FindByPhoneFragment(_ context.Context, fragment string) ([]Record, error) {
	needle := strings.ToLower(fragment)
	return m.filter(func(r *Record) bool {
		return strings.Contains(strings.ToLower(r.Phone), needle)
	}), nil
}

func (m *MemoryStore) FindByPhone(_ context.Context, phone string) ([]Record, error) {
	return m.filter(func(r *Record) bool { return r.Phone == phone }), nil
}

func (m *MemoryStore) FindByUserID(_ context.Context, userID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[userID]
	if !ok {
		return nil, nil
	}
	out := clone(r)
	return &out, nil
}

func (m *MemoryStore) EmailExists(_ context.Context, email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.emailTaken(email), nil
}

func (m *MemoryStore) UserIDExists(_ context.Context, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.records[userID]
	return ok, nil
}

func (m *MemoryStore) Insert(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.UserID]; ok {
		return ErrUserIDTaken
	}
	if rec.Email != "" && m.emailTaken(rec.Email) {
		return ErrEmailTaken
	}
	stored := clone(&rec)
	m.records[rec.UserID] = &stored
	return nil
}

func (m *MemoryStore) TouchSignin(_ context.Context, phone string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.records {
		if r.Phone == phone {
			t := at
			r.LastSignin = &t
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) SetAttendance(_ context.Context, u AttendanceUpdate, upsert bool) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[u.UserID]
	if !ok {
		if !upsert {
			return nil, nil
		}
		r = &Record{UserID: u.UserID, CreatedAt: m.now().UTC().Truncate(time.Second)}
		m.records[u.UserID] = r
	}
	at := u.At
	r.LastSignin = &at
	r.Signin = u.Signin
	if u.ProfilePic != nil {
		r.ProfilePic = *u.ProfilePic
	}
	out := clone(r)
	return &out, nil
}

func (m *MemoryStore) SetPictureURL(_ context.Context, userID, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[userID]
	if !ok {
		return ErrNoRecord
	}
	r.ProfilePicURL = url
	return nil
}

func (m *MemoryStore) ListAttendees(_ context.Context, from, to time.Time) ([]Record, error) {
	out := m.filter(func(r *Record) bool {
		return r.Signin && r.LastSignin != nil && !r.LastSignin.Before(from) && r.LastSignin.Before(to)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].LastSignin.Before(*out[j].LastSignin) })
	return out, nil
}

func (m *MemoryStore) ListAll(_ context.Context) ([]Record, error) {
	out := m.filter(func(*Record) bool { return true })
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].LastSignin, out[j].LastSignin
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
	return out, nil
}

func (m *MemoryStore) ClearStale(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.records {
		if r.Signin && (r.LastSignin == nil || r.LastSignin.Before(before)) {
			r.Signin = false
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Ping(context.Context) error  { return nil }
func (m *MemoryStore) Close(context.Context) error { return nil }

func (m *MemoryStore) emailTaken(email string) bool {
	for _, r := range m.records {
		if r.Email != "" && r.Email == email {
			return true
		}
	}
	return false
}

// filter returns copies of matching records in creation order.
func (m *MemoryStore) filter(keep func(*Record) bool) []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0)
	for _, r := range m.records {
		if keep(r) {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

func clone(r *Record) Record {
	out := *r
	if r.LastSignin != nil {
		t := *r.LastSignin
		out.LastSignin = &t
	}
	return out
}
