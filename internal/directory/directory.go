package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"kiosk/internal/apperr"
)

// DayLayout is the format of the day parameter accepted by TodaysAttendees.
const DayLayout = "2006-01-02"

// maxIDAttempts caps candidate draws; with six-digit ids it is only reached
// when the id space is practically exhausted.
const maxIDAttempts = 1000

// Directory owns attendance records: phone lookup, account registration,
// user id assignment and the per-day attendance flag.
type Directory struct {
	store  Store
	loc    *time.Location
	now    func() time.Time
	newID  func() (string, error)
	logger zerolog.Logger
}

type Option func(*Directory)

// WithLocation sets the civil time zone used for sign-in timestamps and
// day boundaries.
func WithLocation(loc *time.Location) Option {
	return func(d *Directory) {
		if loc != nil {
			d.loc = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Directory) { d.now = now }
}

// WithIDSource replaces the random user id generator.
func WithIDSource(fn func() (string, error)) Option {
	return func(d *Directory) { d.newID = fn }
}

func WithLogger(l zerolog.Logger) Option {
	return func(d *Directory) { d.logger = l }
}

// New creates a Directory backed by s.
func New(s Store, opts ...Option) *Directory {
	d := &Directory{
		store:  s,
		loc:    time.UTC,
		now:    time.Now,
		newID:  randomUserID,
		logger: log.Logger.With().Str("component", "directory").Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Location returns the civil time zone.
func (d *Directory) Location() *time.Location { return d.loc }

// Now returns the current time in the civil zone, truncated to seconds.
func (d *Directory) Now() time.Time {
	return d.now().In(d.loc).Truncate(time.Second)
}

// LookupByPhoneFragment returns every record whose phone contains fragment,
// ignoring case. An empty result is a NotFound error.
func (d *Directory) LookupByPhoneFragment(ctx context.Context, fragment string) ([]Record, error) {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return nil, apperr.Validation("phone number is required")
	}
	recs, err := d.store.FindByPhoneFragment(ctx, fragment)
	if err != nil {
		return nil, apperr.Internal(err, "lookup by phone fragment")
	}
	if len(recs) == 0 {
		return nil, apperr.NotFound("no matching users found")
	}
	return d.civilAll(recs), nil
}

// RegisterAccount validates s, rejects an already registered email and
// stores a new record under a freshly assigned user id.
func (d *Directory) RegisterAccount(ctx context.Context, s Signup) (Record, error) {
	s = s.normalized()
	if err := s.validate(); err != nil {
		return Record{}, err
	}

	if s.Email != "" {
		exists, err := d.store.EmailExists(ctx, s.Email)
		if err != nil {
			return Record{}, apperr.Internal(err, "check email")
		}
		if exists {
			return Record{}, apperr.Duplicate("user already exists, please sign in")
		}
	}

	rec := Record{
		Phone:     s.Phone,
		Email:     s.Email,
		FirstName: s.FirstName,
		LastName:  s.LastName,
		CreatedAt: d.now().UTC().Truncate(time.Second),
	}
	if s.LastSignin != nil {
		at := s.LastSignin.In(d.loc).Truncate(time.Second)
		rec.LastSignin = &at
	}

	for attempt := 1; attempt <= maxIDAttempts; attempt++ {
		id, err := d.GenerateUniqueUserID(ctx)
		if err != nil {
			return Record{}, err
		}
		rec.UserID = id

		err = d.store.Insert(ctx, rec)
		switch {
		case err == nil:
			d.logger.Info().Str("user_id", id).Msg("account registered")
			return d.civil(rec), nil
		case errors.Is(err, ErrUserIDTaken):
			d.logger.Debug().Str("user_id", id).Int("attempt", attempt).Msg("user id collision on insert")
			continue
		case errors.Is(err, ErrEmailTaken):
			return Record{}, apperr.Duplicate("user already exists, please sign in")
		default:
			return Record{}, apperr.Internal(err, "insert record")
		}
	}
	return Record{}, apperr.Internal(errors.New("user id space exhausted"), "register account")
}

// GenerateUniqueUserID draws candidates until one is not held by any
// stored record.
func (d *Directory) GenerateUniqueUserID(ctx context.Context) (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id, err := d.newID()
		if err != nil {
			return "", apperr.Internal(err, "draw user id")
		}
		taken, err := d.store.UserIDExists(ctx, id)
		if err != nil {
			return "", apperr.Internal(err, "check user id")
		}
		if !taken {
			return id, nil
		}
	}
	return "", apperr.Internal(errors.New("user id space exhausted"), "generate user id")
}

// SignIn stamps last_signin on every record with exactly this phone and
// returns the updated records. The attendance flag is left alone.
func (d *Directory) SignIn(ctx context.Context, phone string) ([]Record, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, apperr.Validation("phone number is required")
	}
	n, err := d.store.TouchSignin(ctx, phone, d.Now())
	if err != nil {
		return nil, apperr.Internal(err, "touch signin")
	}
	if n == 0 {
		return nil, apperr.NotFound("no matching users found")
	}
	recs, err := d.store.FindByPhone(ctx, phone)
	if err != nil {
		return nil, apperr.Internal(err, "reload signed in records")
	}
	d.logger.Info().Int64("matched", n).Msg("phone signed in")
	return d.civilAll(recs), nil
}

// SetAttendanceFlag sets last_signin and the attendance flag of an existing
// record in one update.
func (d *Directory) SetAttendanceFlag(ctx context.Context, userID string, at time.Time, flag bool) (Record, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Record{}, apperr.Validation("user_id is required")
	}
	rec, err := d.store.SetAttendance(ctx, AttendanceUpdate{
		UserID: userID,
		At:     at.In(d.loc).Truncate(time.Second),
		Signin: flag,
	}, false)
	if err != nil {
		return Record{}, apperr.Internal(err, "set attendance flag")
	}
	if rec == nil {
		return Record{}, apperr.NotFound("user %s not found", userID)
	}
	return d.civil(*rec), nil
}

// RecordProfilePicture stores a new picture for userID, marking it present
// at the given time. Unknown ids are created.
func (d *Directory) RecordProfilePicture(ctx context.Context, userID string, at time.Time, picture string) (Record, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Record{}, apperr.Validation("user_id is required")
	}
	if picture == "" {
		return Record{}, apperr.Validation("profile picture is required")
	}
	rec, err := d.store.SetAttendance(ctx, AttendanceUpdate{
		UserID:     userID,
		At:         at.In(d.loc).Truncate(time.Second),
		Signin:     true,
		ProfilePic: &picture,
	}, true)
	if err != nil {
		return Record{}, apperr.Internal(err, "record profile picture")
	}
	if rec == nil {
		return Record{}, apperr.Internal(ErrNoRecord, "upsert returned no record")
	}
	return d.civil(*rec), nil
}

// AttachPictureURL records where the profile picture was mirrored to.
func (d *Directory) AttachPictureURL(ctx context.Context, userID, url string) error {
	err := d.store.SetPictureURL(ctx, userID, url)
	if errors.Is(err, ErrNoRecord) {
		return apperr.NotFound("user %s not found", userID)
	}
	if err != nil {
		return apperr.Internal(err, "set picture url")
	}
	return nil
}

// Get returns the record for userID.
func (d *Directory) Get(ctx context.Context, userID string) (Record, error) {
	rec, err := d.store.FindByUserID(ctx, strings.TrimSpace(userID))
	if err != nil {
		return Record{}, apperr.Internal(err, "find by user id")
	}
	if rec == nil {
		return Record{}, apperr.NotFound("user %s not found", userID)
	}
	return d.civil(*rec), nil
}

// ParseDay parses a YYYY-MM-DD day in the civil zone.
func (d *Directory) ParseDay(day string) (time.Time, error) {
	start, err := time.ParseInLocation(DayLayout, strings.TrimSpace(day), d.loc)
	if err != nil {
		return time.Time{}, apperr.Validation("date must be formatted as YYYY-MM-DD")
	}
	return start, nil
}

// timestampLayouts are tried in order after RFC 3339; they carry no offset
// and are read in the civil zone. time.Parse accepts a fractional second
// after the seconds field even though the layouts omit it.
var timestampLayouts = []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05"}

// parseTimestamp reads s as RFC 3339 or as an offset-free civil time in loc.
func parseTimestamp(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(loc), true
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseTimestamp parses a sign-in timestamp given by a client.
func (d *Directory) ParseTimestamp(s string) (time.Time, error) {
	t, ok := parseTimestamp(s, d.loc)
	if !ok {
		return time.Time{}, apperr.Validation("last_signin must be an ISO-8601 timestamp")
	}
	return t, nil
}

// TodaysAttendees returns records flagged present whose last sign-in falls
// on day, a YYYY-MM-DD date interpreted in the civil zone.
func (d *Directory) TodaysAttendees(ctx context.Context, day string) ([]Record, error) {
	start, err := d.ParseDay(day)
	if err != nil {
		return nil, err
	}
	recs, err := d.store.ListAttendees(ctx, start, start.AddDate(0, 0, 1))
	if err != nil {
		return nil, apperr.Internal(err, "list attendees")
	}
	return d.civilAll(recs), nil
}

// ListAll returns every record, most recent sign-in first.
func (d *Directory) ListAll(ctx context.Context) ([]Record, error) {
	recs, err := d.store.ListAll(ctx)
	if err != nil {
		return nil, apperr.Internal(err, "list records")
	}
	return d.civilAll(recs), nil
}

// ClearStaleAttendance lowers the attendance flag of everyone who has not
// signed in since the start of the current civil day.
func (d *Directory) ClearStaleAttendance(ctx context.Context) (int64, error) {
	now := d.Now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, d.loc)
	n, err := d.store.ClearStale(ctx, startOfDay)
	if err != nil {
		return 0, apperr.Internal(err, "clear stale attendance")
	}
	if n > 0 {
		d.logger.Info().Int64("cleared", n).Time("before", startOfDay).Msg("stale attendance flags cleared")
	}
	return n, nil
}

// Ping checks the backing store.
func (d *Directory) Ping(ctx context.Context) error {
	if err := d.store.Ping(ctx); err != nil {
		return fmt.Errorf("store ping: %w", err)
	}
	return nil
}

func (d *Directory) civil(rec Record) Record {
	if rec.LastSignin != nil {
		at := rec.LastSignin.In(d.loc)
		rec.LastSignin = &at
	}
	return rec
}

func (d *Directory) civilAll(recs []Record) []Record {
	out := make([]Record, len(recs))
	for i, rec := range recs {
		out[i] = d.civil(rec)
	}
	return out
}
