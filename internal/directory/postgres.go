package directory

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"kiosk/internal/store"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS attendance_records (
	user_id          TEXT PRIMARY KEY,
	phone            TEXT NOT NULL DEFAULT '',
	email            TEXT,
	first_name       TEXT NOT NULL DEFAULT '',
	last_name        TEXT NOT NULL DEFAULT '',
	last_signin      TIMESTAMPTZ,
	signin           BOOLEAN NOT NULL DEFAULT FALSE,
	profile_pic      TEXT,
	profile_pic_url  TEXT,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_attendance_records_email ON attendance_records (email) WHERE email IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_attendance_records_phone ON attendance_records (phone);
CREATE INDEX IF NOT EXISTS idx_attendance_records_last_signin ON attendance_records (last_signin DESC NULLS LAST);
`

const pgColumns = `user_id, phone, COALESCE(email, ''), first_name, last_name, last_signin, signin,
	COALESCE(profile_pic, ''), COALESCE(profile_pic_url, ''), created_at`

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// PostgresStore persists records in Postgres.
type PostgresStore struct {
	db    *sql.DB
	retry store.Retrier
}

// NewPostgresStore creates the table when missing and returns the store.
func NewPostgresStore(ctx context.Context, db *sql.DB, attempts int, delay time.Duration) (*PostgresStore, error) {
	s := &PostgresStore{
		db:    db,
		retry: store.Retrier{Attempts: attempts, Delay: delay, Transient: pgTransient},
	}
	err := s.retry.Do(ctx, "bootstrap schema", func(ctx context.Context) error {
		_, err := db.ExecContext(ctx, pgSchema)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func pgTransient(err error) bool {
	return errors.Is(err, driver.ErrBadConn) || pgconn.SafeToRetry(err) || pgconn.Timeout(err)
}

func (s *PostgresStore) FindByPhoneFragment(ctx context.Context, fragment string) ([]Record, error) {
	return s.query(ctx, "find by phone fragment", `
		SELECT `+pgColumns+` FROM attendance_records
		WHERE strpos(lower(phone), lower($1)) > 0
		ORDER BY created_at, user_id
	`, fragment)
}

func (s *PostgresStore) FindByPhone(ctx context.Context, phone string) ([]Record, error) {
	return s.query(ctx, "find by phone", `
		SELECT `+pgColumns+` FROM attendance_records
		WHERE phone = $1
		ORDER BY created_at, user_id
	`, phone)
}

func (s *PostgresStore) FindByUserID(ctx context.Context, userID string) (*Record, error) {
	var rec *Record
	err := s.retry.Do(ctx, "find by user id", func(ctx context.Context) error {
		row := s.db.QueryRowContext(ctx, `SELECT `+pgColumns+` FROM attendance_records WHERE user_id = $1`, userID)
		r, err := scanRecord(row)
		if errors.Is(err, sql.ErrNoRows) {
			rec = nil
			return nil
		}
		if err != nil {
			return err
		}
		rec = &r
		return nil
	})
	return rec, err
}

func (s *PostgresStore) EmailExists(ctx context.Context, email string) (bool, error) {
	return s.exists(ctx, "email exists", `SELECT EXISTS (SELECT 1 FROM attendance_records WHERE email = $1)`, email)
}

func (s *PostgresStore) UserIDExists(ctx context.Context, userID string) (bool, error) {
	return s.exists(ctx, "user id exists", `SELECT EXISTS (SELECT 1 FROM attendance_records WHERE user_id = $1)`, userID)
}

// Insert is not retried: a lost acknowledgement would turn the retry into
// a conflict with its own row. database/sql already redials on ErrBadConn
// before anything is sent.
func (s *PostgresStore) Insert(ctx context.Context, rec Record) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO attendance_records (user_id, phone, email, first_name, last_name, last_signin, signin, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO NOTHING
	`, rec.UserID, rec.Phone, rec.Email, rec.FirstName, rec.LastName, nullTime(rec.LastSignin), rec.Signin, rec.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrEmailTaken
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUserIDTaken
	}
	return nil
}

func (s *PostgresStore) TouchSignin(ctx context.Context, phone string, at time.Time) (int64, error) {
	var n int64
	err := s.retry.Do(ctx, "touch signin", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `UPDATE attendance_records SET last_signin = $2 WHERE phone = $1`, phone, at)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

func (s *PostgresStore) SetAttendance(ctx context.Context, u AttendanceUpdate, upsert bool) (*Record, error) {
	pic := sql.NullString{}
	if u.ProfilePic != nil {
		pic = sql.NullString{String: *u.ProfilePic, Valid: true}
	}

	query := `
		UPDATE attendance_records
		SET last_signin = $2, signin = $3, profile_pic = COALESCE($4, profile_pic)
		WHERE user_id = $1
		RETURNING ` + pgColumns
	if upsert {
		query = `
			INSERT INTO attendance_records (user_id, last_signin, signin, profile_pic)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (user_id) DO UPDATE SET
				last_signin = EXCLUDED.last_signin,
				signin = EXCLUDED.signin,
				profile_pic = COALESCE(EXCLUDED.profile_pic, attendance_records.profile_pic)
			RETURNING ` + pgColumns
	}

	var rec *Record
	err := s.retry.Do(ctx, "set attendance", func(ctx context.Context) error {
		r, err := scanRecord(s.db.QueryRowContext(ctx, query, u.UserID, u.At, u.Signin, pic))
		if errors.Is(err, sql.ErrNoRows) {
			rec = nil
			return nil
		}
		if err != nil {
			return err
		}
		rec = &r
		return nil
	})
	return rec, err
}

func (s *PostgresStore) SetPictureURL(ctx context.Context, userID, url string) error {
	return s.retry.Do(ctx, "set picture url", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `UPDATE attendance_records SET profile_pic_url = $2 WHERE user_id = $1`, userID, url)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNoRecord
		}
		return nil
	})
}

func (s *PostgresStore) ListAttendees(ctx context.Context, from, to time.Time) ([]Record, error) {
	return s.query(ctx, "list attendees", `
		SELECT `+pgColumns+` FROM attendance_records
		WHERE signin AND last_signin >= $1 AND last_signin < $2
		ORDER BY last_signin, user_id
	`, from, to)
}

func (s *PostgresStore) ListAll(ctx context.Context) ([]Record, error) {
	return s.query(ctx, "list all", `
		SELECT `+pgColumns+` FROM attendance_records
		ORDER BY last_signin DESC NULLS LAST, user_id
	`)
}

func (s *PostgresStore) ClearStale(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := s.retry.Do(ctx, "clear stale", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE attendance_records SET signin = FALSE
			WHERE signin AND (last_signin IS NULL OR last_signin < $1)
		`, before)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *PostgresStore) Close(context.Context) error { return s.db.Close() }

func (s *PostgresStore) exists(ctx context.Context, op, query string, arg any) (bool, error) {
	var ok bool
	err := s.retry.Do(ctx, op, func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, query, arg).Scan(&ok)
	})
	return ok, err
}

func (s *PostgresStore) query(ctx context.Context, op, query string, args ...any) ([]Record, error) {
	var out []Record
	err := s.retry.Do(ctx, op, func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []Record{}
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec        Record
		lastSignin sql.NullTime
	)
	err := row.Scan(&rec.UserID, &rec.Phone, &rec.Email, &rec.FirstName, &rec.LastName, &lastSignin,
		&rec.Signin, &rec.ProfilePic, &rec.ProfilePicURL, &rec.CreatedAt)
	if err != nil {
		return Record{}, err
	}
	if lastSignin.Valid {
		t := lastSignin.Time
		rec.LastSignin = &t
	}
	return rec, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
