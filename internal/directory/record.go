package directory

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"kiosk/internal/apperr"
)

// Record is one registered account at the kiosk.
type Record struct {
	UserID        string     `json:"user_id" bson:"user_id"`
	Phone         string     `json:"phone" bson:"phone"`
	Email         string     `json:"email,omitempty" bson:"email,omitempty"`
	FirstName     string     `json:"first_name" bson:"first_name"`
	LastName      string     `json:"last_name" bson:"last_name"`
	LastSignin    *time.Time `json:"last_signin,omitempty" bson:"last_signin,omitempty"`
	Signin        bool       `json:"signin" bson:"signin"`
	ProfilePic    string     `json:"profile_pic,omitempty" bson:"profile_pic,omitempty"`
	ProfilePicURL string     `json:"profile_pic_url,omitempty" bson:"profile_pic_url,omitempty"`
	CreatedAt     time.Time  `json:"created_at" bson:"created_at"`
}

// Signup carries the fields accepted when an account is registered.
type Signup struct {
	Phone      string
	Email      string
	FirstName  string
	LastName   string
	LastSignin *time.Time
}

var validate = validator.New()

func (s Signup) normalized() Signup {
	s.Phone = strings.TrimSpace(s.Phone)
	s.Email = strings.ToLower(strings.TrimSpace(s.Email))
	s.FirstName = strings.TrimSpace(s.FirstName)
	s.LastName = strings.TrimSpace(s.LastName)
	return s
}

func (s Signup) validate() error {
	var missing []string
	if s.Phone == "" {
		missing = append(missing, "phone")
	}
	if s.FirstName == "" {
		missing = append(missing, "first_name")
	}
	if s.LastName == "" {
		missing = append(missing, "last_name")
	}
	if len(missing) > 0 {
		return apperr.Validation("missing required fields: %s", strings.Join(missing, ", "))
	}
	if s.Email != "" {
		if err := validate.Var(s.Email, "email"); err != nil {
			return apperr.Validation("invalid email address")
		}
	}
	return nil
}

// AttendanceUpdate sets the sign-in time and flag of one record, optionally
// replacing its profile picture in the same write.
type AttendanceUpdate struct {
	UserID     string
	At         time.Time
	Signin     bool
	ProfilePic *string
}
