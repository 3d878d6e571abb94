package directory

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"kiosk/internal/store"
)

func TestLegacyTimeRegistryReadsStringTimestamps(t *testing.T) {
	reg := legacyTimeRegistry(ist)
	want := time.Date(2024, 5, 1, 9, 30, 0, 0, ist)

	cases := map[string]any{
		"civil":     "2024-05-01 09:30:00",
		"iso":       "2024-05-01T09:30:00",
		"offset":    "2024-05-01T04:00:00Z",
		"micros":    "2024-05-01T09:30:00.000000",
		"bson date": want,
	}
	for name, value := range cases {
		t.Run(name, func(t *testing.T) {
			doc, err := bson.Marshal(bson.M{"user_id": "100001", "phone": "1", "last_signin": value, "created_at": want})
			require.NoError(t, err)

			var rec Record
			require.NoError(t, bson.UnmarshalWithRegistry(reg, doc, &rec))
			require.NotNil(t, rec.LastSignin)
			assert.True(t, want.Equal(*rec.LastSignin), rec.LastSignin.String())
			assert.True(t, want.Equal(rec.CreatedAt))
		})
	}

	doc, err := bson.Marshal(bson.M{"user_id": "100002", "last_signin": "last tuesday"})
	require.NoError(t, err)
	var rec Record
	assert.Error(t, bson.UnmarshalWithRegistry(reg, doc, &rec))
}

// unreachableCollection points at a port nothing listens on, so every
// operation fails server selection quickly.
func unreachableCollection(t *testing.T) *mongo.Collection {
	t.Helper()
	client, err := mongo.Connect(context.Background(), options.Client().
		ApplyURI("mongodb://127.0.0.1:1").
		SetServerSelectionTimeout(100*time.Millisecond).
		SetConnectTimeout(100*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })
	return client.Database("kiosk_test").Collection("records")
}

func TestNewMongoStoreFailsWithoutUserIDIndex(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := NewMongoStore(ctx, unreachableCollection(t), ist, 1, 0)
	assert.ErrorContains(t, err, "user_id index")
}

func TestMongoInsertIsNotRetried(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	consulted := 0
	s := &MongoStore{
		coll: unreachableCollection(t),
		retry: store.Retrier{Attempts: 3, Delay: time.Hour, Transient: func(error) bool {
			consulted++
			return true
		}},
		now: time.Now,
	}

	err := s.Insert(ctx, Record{UserID: "100001", Phone: "1", CreatedAt: time.Now()})
	require.Error(t, err)
	assert.Zero(t, consulted)
}

func TestMongoStoreOnLegacyCollection(t *testing.T) {
	uri := os.Getenv("TEST_MONGO_URI")
	if testing.Short() || uri == "" {
		t.Skip("TEST_MONGO_URI not set")
	}
	ctx := context.Background()
	m, err := store.NewMongo(ctx, uri)
	require.NoError(t, err)
	defer m.Close(ctx)

	coll := m.Collection("kiosk_test", "legacy")
	require.NoError(t, coll.Drop(ctx))
	// Multi-kid signups wrote one document per kid under the parent's email.
	_, err = coll.InsertMany(ctx, []any{
		bson.M{"user_id": "200001", "phone": "555", "email": "parent@example.com", "last_signin": "2024-05-01 09:00:00"},
		bson.M{"user_id": "200002", "phone": "555", "email": "parent@example.com", "last_signin": "2024-05-01 10:00:00"},
	})
	require.NoError(t, err)

	s, err := NewMongoStore(ctx, coll, ist, 1, 0)
	require.NoError(t, err)

	assert.ErrorIs(t, s.Insert(ctx, Record{UserID: "200001", Phone: "1", CreatedAt: time.Now()}), ErrUserIDTaken)

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "200002", all[0].UserID)
}
