package directory

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiosk/internal/store"
)

// exerciseStore checks the behaviour every Store implementation shares.
// It expects an empty store.
func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 4, 0, 0, 0, time.UTC)

	require.NoError(t, s.Insert(ctx, Record{UserID: "100001", Phone: "98765-43210", Email: "a@example.com", FirstName: "A", LastName: "One", CreatedAt: created}))
	require.NoError(t, s.Insert(ctx, Record{UserID: "100002", Phone: "98765-43210", FirstName: "B", LastName: "Two", CreatedAt: created.Add(time.Second)}))
	require.NoError(t, s.Insert(ctx, Record{UserID: "100003", Phone: "11111", FirstName: "C", LastName: "Three", CreatedAt: created.Add(2 * time.Second)}))

	assert.True(t, errors.Is(s.Insert(ctx, Record{UserID: "100001", Phone: "x", CreatedAt: created}), ErrUserIDTaken))
	assert.True(t, errors.Is(s.Insert(ctx, Record{UserID: "100009", Phone: "x", Email: "a@example.com", CreatedAt: created}), ErrEmailTaken))

	ok, err := s.EmailExists(ctx, "a@example.com")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.UserIDExists(ctx, "100009")
	require.NoError(t, err)
	assert.False(t, ok)

	frag, err := s.FindByPhoneFragment(ctx, "65-4")
	require.NoError(t, err)
	assert.Len(t, frag, 2)

	n, err := s.TouchSignin(ctx, "98765-43210", created.Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	rec, err := s.SetAttendance(ctx, AttendanceUpdate{UserID: "100003", At: created.Add(2 * time.Hour), Signin: true}, false)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.Signin)
	assert.Equal(t, "C", rec.FirstName)

	rec, err = s.SetAttendance(ctx, AttendanceUpdate{UserID: "100404", At: created, Signin: true}, false)
	require.NoError(t, err)
	assert.Nil(t, rec)

	pic := "cGlj"
	rec, err = s.SetAttendance(ctx, AttendanceUpdate{UserID: "100404", At: created.Add(3 * time.Hour), Signin: true, ProfilePic: &pic}, true)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "cGlj", rec.ProfilePic)

	require.NoError(t, s.SetPictureURL(ctx, "100404", "https://img.example/p.jpg"))
	assert.True(t, errors.Is(s.SetPictureURL(ctx, "999999", "x"), ErrNoRecord))

	got, err := s.FindByUserID(ctx, "100404")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "https://img.example/p.jpg", got.ProfilePicURL)

	attendees, err := s.ListAttendees(ctx, created, created.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, attendees, 2)

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "100404", all[0].UserID)

	cleared, err := s.ClearStale(ctx, created.Add(150*time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 1, cleared)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if testing.Short() || url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := store.NewDB(ctx, url)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Client.ExecContext(ctx, `DROP TABLE IF EXISTS attendance_records`)
	require.NoError(t, err)
	s, err := NewPostgresStore(ctx, db.Client, 1, 0)
	require.NoError(t, err)

	exerciseStore(t, s)
}

func TestMongoStore(t *testing.T) {
	uri := os.Getenv("TEST_MONGO_URI")
	if testing.Short() || uri == "" {
		t.Skip("TEST_MONGO_URI not set")
	}
	ctx := context.Background()
	m, err := store.NewMongo(ctx, uri)
	require.NoError(t, err)
	defer m.Close(ctx)

	coll := m.Collection("kiosk_test", "records")
	require.NoError(t, coll.Drop(ctx))

	s, err := NewMongoStore(ctx, coll, ist, 1, 0)
	require.NoError(t, err)
	exerciseStore(t, s)
}

func TestOpenStoreSchemes(t *testing.T) {
	s, err := OpenStore(context.Background(), OpenOptions{URL: "memory://"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = OpenStore(context.Background(), OpenOptions{URL: "redis://localhost"})
	assert.ErrorContains(t, err, "unsupported store scheme")
}
