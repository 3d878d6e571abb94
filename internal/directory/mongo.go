package directory

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"kiosk/internal/store"
)

// noID keeps the Mongo object id out of every result.
var noID = bson.M{"_id": 0}

// MongoStore persists records as documents in one collection.
type MongoStore struct {
	coll  *mongo.Collection
	retry store.Retrier
	now   func() time.Time
}

// NewMongoStore ensures the collection indexes and returns the store.
// The unique user_id index is required: without it Insert cannot detect a
// taken id. The other indexes are best effort, since collections carrying
// older record shapes can hold duplicate emails.
func NewMongoStore(ctx context.Context, coll *mongo.Collection, loc *time.Location, attempts int, delay time.Duration) (*MongoStore, error) {
	if loc == nil {
		loc = time.UTC
	}
	coll, err := coll.Clone(options.Collection().SetRegistry(legacyTimeRegistry(loc)))
	if err != nil {
		return nil, err
	}
	s := &MongoStore{
		coll:  coll,
		retry: store.Retrier{Attempts: attempts, Delay: delay, Transient: mongoTransient},
		now:   time.Now,
	}

	stringTyped := func(field string) bson.M { return bson.M{field: bson.M{"$type": "string"}} }
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetName("user_id_unique").SetUnique(true).SetPartialFilterExpression(stringTyped("user_id")),
	})
	if err != nil {
		return nil, fmt.Errorf("create user_id index on %s: %w", coll.Name(), err)
	}

	optional := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetName("email_unique").SetUnique(true).SetPartialFilterExpression(stringTyped("email")),
		},
		{Keys: bson.D{{Key: "phone", Value: 1}}},
		{Keys: bson.D{{Key: "last_signin", Value: -1}}},
	}
	for _, idx := range optional {
		if _, err := coll.Indexes().CreateOne(ctx, idx); err != nil {
			log.Warn().Err(err).Str("collection", coll.Name()).Interface("keys", idx.Keys).Msg("could not ensure index")
		}
	}
	return s, nil
}

func mongoTransient(err error) bool {
	return mongo.IsNetworkError(err) || mongo.IsTimeout(err)
}

// legacyTimeRegistry decodes time values stored as strings by earlier
// versions of the kiosk, reading offset-free ones in loc.
func legacyTimeRegistry(loc *time.Location) *bsoncodec.Registry {
	reg := bson.NewRegistry()
	dates := bsoncodec.NewTimeCodec()
	reg.RegisterTypeDecoder(reflect.TypeOf(time.Time{}), bsoncodec.ValueDecoderFunc(
		func(dc bsoncodec.DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
			if vr.Type() != bsontype.String {
				return dates.DecodeValue(dc, vr, val)
			}
			raw, err := vr.ReadString()
			if err != nil {
				return err
			}
			if strings.TrimSpace(raw) == "" {
				val.Set(reflect.ValueOf(time.Time{}))
				return nil
			}
			t, ok := parseTimestamp(raw, loc)
			if !ok {
				return fmt.Errorf("unrecognised timestamp %q", raw)
			}
			val.Set(reflect.ValueOf(t))
			return nil
		}))
	return reg
}

func (s *MongoStore) FindByPhoneFragment(ctx context.Context, fragment string) ([]Record, error) {
	filter := bson.M{"phone": primitive.Regex{Pattern: regexp.QuoteMeta(fragment), Options: "i"}}
	return s.find(ctx, "find by phone fragment", filter, bson.D{{Key: "created_at", Value: 1}})
}

func (s *MongoStore) FindByPhone(ctx context.Context, phone string) ([]Record, error) {
	return s.find(ctx, "find by phone", bson.M{"phone": phone}, bson.D{{Key: "created_at", Value: 1}})
}

func (s *MongoStore) FindByUserID(ctx context.Context, userID string) (*Record, error) {
	var rec *Record
	err := s.retry.Do(ctx, "find by user id", func(ctx context.Context) error {
		var r Record
		err := s.coll.FindOne(ctx, bson.M{"user_id": userID}, options.FindOne().SetProjection(noID)).Decode(&r)
		if errors.Is(err, mongo.ErrNoDocuments) {
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

func (s *MongoStore) EmailExists(ctx context.Context, email string) (bool, error) {
	return s.exists(ctx, "email exists", bson.M{"email": email})
}

func (s *MongoStore) UserIDExists(ctx context.Context, userID string) (bool, error) {
	return s.exists(ctx, "user id exists", bson.M{"user_id": userID})
}

// Insert is not retried: a write whose acknowledgement was lost would come
// back as a duplicate of itself. The driver's retryable writes cover it.
func (s *MongoStore) Insert(ctx context.Context, rec Record) error {
	_, err := s.coll.InsertOne(ctx, rec)
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		if duplicateOn(err, "email") {
			return ErrEmailTaken
		}
		return ErrUserIDTaken
	}
	return err
}

func (s *MongoStore) TouchSignin(ctx context.Context, phone string, at time.Time) (int64, error) {
	var n int64
	err := s.retry.Do(ctx, "touch signin", func(ctx context.Context) error {
		res, err := s.coll.UpdateMany(ctx, bson.M{"phone": phone}, bson.M{"$set": bson.M{"last_signin": at}})
		if err != nil {
			return err
		}
		n = res.MatchedCount
		return nil
	})
	return n, err
}

func (s *MongoStore) SetAttendance(ctx context.Context, u AttendanceUpdate, upsert bool) (*Record, error) {
	set := bson.M{"last_signin": u.At, "signin": u.Signin}
	if u.ProfilePic != nil {
		set["profile_pic"] = *u.ProfilePic
	}
	update := bson.M{
		"$set": set,
		"$setOnInsert": bson.M{
			"phone":      "",
			"first_name": "",
			"last_name":  "",
			"created_at": s.now().UTC().Truncate(time.Second),
		},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(upsert).
		SetReturnDocument(options.After).
		SetProjection(noID)

	var rec *Record
	err := s.retry.Do(ctx, "set attendance", func(ctx context.Context) error {
		var r Record
		err := s.coll.FindOneAndUpdate(ctx, bson.M{"user_id": u.UserID}, update, opts).Decode(&r)
		if errors.Is(err, mongo.ErrNoDocuments) {
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

func (s *MongoStore) SetPictureURL(ctx context.Context, userID, url string) error {
	return s.retry.Do(ctx, "set picture url", func(ctx context.Context) error {
		res, err := s.coll.UpdateOne(ctx, bson.M{"user_id": userID}, bson.M{"$set": bson.M{"profile_pic_url": url}})
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return ErrNoRecord
		}
		return nil
	})
}

func (s *MongoStore) ListAttendees(ctx context.Context, from, to time.Time) ([]Record, error) {
	filter := bson.M{
		"signin":      true,
		"last_signin": bson.M{"$gte": from, "$lt": to},
	}
	return s.find(ctx, "list attendees", filter, bson.D{{Key: "last_signin", Value: 1}})
}

// ListAll relies on Mongo ordering missing values lowest, so a descending
// sort puts records without last_signin at the end.
func (s *MongoStore) ListAll(ctx context.Context) ([]Record, error) {
	return s.find(ctx, "list all", bson.M{}, bson.D{{Key: "last_signin", Value: -1}, {Key: "user_id", Value: 1}})
}

func (s *MongoStore) ClearStale(ctx context.Context, before time.Time) (int64, error) {
	filter := bson.M{
		"signin": true,
		"$or": bson.A{
			bson.M{"last_signin": bson.M{"$lt": before}},
			bson.M{"last_signin": bson.M{"$exists": false}},
		},
	}
	var n int64
	err := s.retry.Do(ctx, "clear stale", func(ctx context.Context) error {
		res, err := s.coll.UpdateMany(ctx, filter, bson.M{"$set": bson.M{"signin": false}})
		if err != nil {
			return err
		}
		n = res.ModifiedCount
		return nil
	})
	return n, err
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.coll.Database().Client().Ping(ctx, nil)
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.coll.Database().Client().Disconnect(ctx)
}

func (s *MongoStore) exists(ctx context.Context, op string, filter bson.M) (bool, error) {
	var n int64
	err := s.retry.Do(ctx, op, func(ctx context.Context) error {
		var err error
		n, err = s.coll.CountDocuments(ctx, filter, options.Count().SetLimit(1))
		return err
	})
	return n > 0, err
}

func (s *MongoStore) find(ctx context.Context, op string, filter bson.M, sort bson.D) ([]Record, error) {
	out := []Record{}
	err := s.retry.Do(ctx, op, func(ctx context.Context) error {
		cur, err := s.coll.Find(ctx, filter, options.Find().SetProjection(noID).SetSort(sort))
		if err != nil {
			return err
		}
		var recs []Record
		if err := cur.All(ctx, &recs); err != nil {
			return err
		}
		if recs != nil {
			out = recs
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// duplicateOn reports whether a duplicate key error was raised by the
// unique index on field.
func duplicateOn(err error, field string) bool {
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 && strings.Contains(e.Message, field) {
				return true
			}
		}
		return false
	}
	return strings.Contains(err.Error(), field)
}
