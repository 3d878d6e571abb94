package directory

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUserIDTaken is returned by Insert when the user id already exists.
	ErrUserIDTaken = errors.New("user id already taken")
	// ErrEmailTaken is returned by Insert when the email is already registered.
	ErrEmailTaken = errors.New("email already registered")
	// ErrNoRecord is returned by updates that matched nothing.
	ErrNoRecord = errors.New("record not found")
)

// Store is the persistence capability the Directory depends on. Every
// method must be safe for concurrent use and each write must be atomic
// for the document/row it touches.
type Store interface {
	FindByPhoneFragment(ctx context.Context, fragment string) ([]Record, error)
	FindByPhone(ctx context.Context, phone string) ([]Record, error)
	// FindByUserID returns nil, nil when no record has the id.
	FindByUserID(ctx context.Context, userID string) (*Record, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	UserIDExists(ctx context.Context, userID string) (bool, error)

	// Insert stores rec only if its user id is free.
	Insert(ctx context.Context, rec Record) error
	// TouchSignin sets last_signin on every record with exactly this phone
	// and reports how many matched.
	TouchSignin(ctx context.Context, phone string, at time.Time) (int64, error)
	// SetAttendance applies u. Without upsert a missing record yields nil, nil.
	SetAttendance(ctx context.Context, u AttendanceUpdate, upsert bool) (*Record, error)
	SetPictureURL(ctx context.Context, userID, url string) error

	// ListAttendees returns flagged records with last_signin in [from, to).
	ListAttendees(ctx context.Context, from, to time.Time) ([]Record, error)
	// ListAll orders by last_signin descending, missing last.
	ListAll(ctx context.Context) ([]Record, error)
	// ClearStale lowers the flag on records last signed in before the cutoff.
	ClearStale(ctx context.Context, before time.Time) (int64, error)

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
