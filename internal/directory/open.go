package directory

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"kiosk/internal/store"
)

// OpenOptions selects and tunes the backing store.
type OpenOptions struct {
	URL             string
	MongoDatabase   string
	MongoCollection string
	// Location reads legacy offset-free timestamps stored as strings.
	Location   *time.Location
	MaxRetries int
	RetryDelay time.Duration
}

// OpenStore connects to the store named by the connection string scheme:
// postgres:// or postgresql://, mongodb:// or mongodb+srv://, memory://.
func OpenStore(ctx context.Context, opts OpenOptions) (Store, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	switch u.Scheme {
	case "memory":
		return NewMemoryStore(), nil

	case "postgres", "postgresql":
		var db *store.DB
		err := store.Retrier{Attempts: opts.MaxRetries, Delay: opts.RetryDelay, Transient: anyError}.
			Do(ctx, "connect postgres", func(ctx context.Context) error {
				var err error
				db, err = store.NewDB(ctx, opts.URL)
				return err
			})
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		s, err := NewPostgresStore(ctx, db.Client, opts.MaxRetries, opts.RetryDelay)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("bootstrap postgres schema: %w", err)
		}
		return s, nil

	case "mongodb", "mongodb+srv":
		var m *store.Mongo
		err := store.Retrier{Attempts: opts.MaxRetries, Delay: opts.RetryDelay, Transient: anyError}.
			Do(ctx, "connect mongo", func(ctx context.Context) error {
				var err error
				m, err = store.NewMongo(ctx, opts.URL)
				return err
			})
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		s, err := NewMongoStore(ctx, m.Collection(opts.MongoDatabase, opts.MongoCollection), opts.Location, opts.MaxRetries, opts.RetryDelay)
		if err != nil {
			_ = m.Close(context.Background())
			return nil, fmt.Errorf("bootstrap mongo indexes: %w", err)
		}
		return s, nil

	default:
		return nil, fmt.Errorf("unsupported store scheme %q", u.Scheme)
	}
}

// anyError treats every connection failure at startup as worth retrying.
func anyError(error) bool { return true }
