package handler

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"kiosk/internal/apperr"
	"kiosk/internal/directory"
	"kiosk/internal/httpmiddleware"
	"kiosk/internal/metrics"
	"kiosk/internal/photo"
	"kiosk/internal/queue"
)

type signupRequest struct {
	Phone      string `json:"phone" binding:"required,phone"`
	Email      string `json:"email" binding:"omitempty,email"`
	FirstName  string `json:"first_name" binding:"required"`
	LastName   string `json:"last_name" binding:"required"`
	LastSignin string `json:"last_signin"`
}

func (h *Handler) signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		metrics.Signups.WithLabelValues("invalid").Inc()
		h.fail(c, bindError(err))
		return
	}

	s := directory.Signup{Phone: req.Phone, Email: req.Email, FirstName: req.FirstName, LastName: req.LastName}
	if req.LastSignin != "" {
		at, err := h.dir.ParseTimestamp(req.LastSignin)
		if err != nil {
			metrics.Signups.WithLabelValues("invalid").Inc()
			h.fail(c, err)
			return
		}
		s.LastSignin = &at
	}

	rec, err := h.dir.RegisterAccount(c.Request.Context(), s)
	if err != nil {
		metrics.Signups.WithLabelValues(apperr.KindOf(err).String()).Inc()
		h.fail(c, err)
		return
	}
	metrics.Signups.WithLabelValues("created").Inc()
	c.JSON(http.StatusCreated, gin.H{"success": true, "user": rec})
}

type signinRequest struct {
	Phone string `json:"phone" binding:"required"`
}

// signin signs in every account holding exactly this phone. Without an exact
// match the fragment matches are returned for the kiosk to choose from.
func (h *Handler) signin(c *gin.Context) {
	var req signinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, bindError(err))
		return
	}
	ctx := c.Request.Context()

	recs, err := h.dir.SignIn(ctx, req.Phone)
	if err == nil {
		metrics.Signins.WithLabelValues("signed_in").Inc()
		c.JSON(http.StatusOK, gin.H{"success": true, "users": recs, "message": "signed in", "signed_in": true})
		return
	}
	if !apperr.IsNotFound(err) {
		h.fail(c, err)
		return
	}

	candidates, err := h.dir.LookupByPhoneFragment(ctx, req.Phone)
	if err != nil {
		if apperr.IsNotFound(err) {
			metrics.Signins.WithLabelValues("not_found").Inc()
		}
		h.fail(c, err)
		return
	}
	metrics.Signins.WithLabelValues("candidates").Inc()
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"users":     candidates,
		"message":   "no exact match, select your account",
		"signed_in": false,
	})
}

func (h *Handler) lookup(c *gin.Context) {
	recs, err := h.dir.LookupByPhoneFragment(c.Request.Context(), c.Query("phone"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "users": recs})
}

func (h *Handler) uploadProfilePic(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxUploadBytes)
	if err := c.Request.ParseMultipartForm(h.opts.MaxUploadBytes); err != nil {
		metrics.Uploads.WithLabelValues("invalid").Inc()
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(c, apperr.Validation("upload exceeds %d bytes", h.opts.MaxUploadBytes))
			return
		}
		h.fail(c, apperr.Validation("request must be multipart/form-data"))
		return
	}

	userID := strings.TrimSpace(c.PostForm("user_id"))
	lastSignin := strings.TrimSpace(c.PostForm("last_signin"))
	file, fileErr := c.FormFile("profile_pic")

	var missing []string
	if userID == "" {
		missing = append(missing, "user_id")
	}
	if lastSignin == "" {
		missing = append(missing, "last_signin")
	}
	if fileErr != nil {
		missing = append(missing, "profile_pic")
	}
	if len(missing) > 0 {
		metrics.Uploads.WithLabelValues("invalid").Inc()
		h.fail(c, apperr.Validation("missing required fields: %s", strings.Join(missing, ", ")))
		return
	}

	at, err := h.dir.ParseTimestamp(lastSignin)
	if err != nil {
		metrics.Uploads.WithLabelValues("invalid").Inc()
		h.fail(c, err)
		return
	}

	f, err := file.Open()
	if err != nil {
		h.fail(c, apperr.Internal(err, "open uploaded file"))
		return
	}
	defer f.Close()
	raw, err := io.ReadAll(f)
	if err != nil {
		h.fail(c, apperr.Internal(err, "read uploaded file"))
		return
	}

	jpeg, err := photo.Normalize(raw, h.opts.ProfilePicMaxDim, h.opts.ProfilePicMaxPixels)
	if err != nil {
		metrics.Uploads.WithLabelValues("invalid").Inc()
		if errors.Is(err, photo.ErrTooManyPixels) {
			h.fail(c, apperr.Validation("profile_pic exceeds %d pixels", h.opts.ProfilePicMaxPixels))
			return
		}
		h.fail(c, apperr.Validation("profile_pic must be a JPEG, PNG, GIF or WebP image"))
		return
	}

	ctx := c.Request.Context()
	rec, err := h.dir.RecordProfilePicture(ctx, userID, at, photo.Base64(jpeg))
	if err != nil {
		metrics.Uploads.WithLabelValues("failed").Inc()
		h.fail(c, err)
		return
	}
	metrics.Uploads.WithLabelValues("stored").Inc()

	if h.opts.Queue != nil {
		if err := h.opts.Queue.Publish(ctx, queue.NewMessage(queue.TypeProfilePic, []byte(rec.UserID))); err != nil {
			h.logger.Warn().Err(err).
				Str("request_id", httpmiddleware.RequestID(c)).
				Str("user_id", rec.UserID).
				Msg("queue publish failed")
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "profile picture uploaded",
		"user_id": rec.UserID,
	})
}

// todayLogins lists present attendees for ?date=, defaulting to the current
// UTC date.
func (h *Handler) todayLogins(c *gin.Context) {
	day := strings.TrimSpace(c.Query("date"))
	if day == "" {
		day = h.now().UTC().Format(directory.DayLayout)
	}
	recs, err := h.dir.TodaysAttendees(c.Request.Context(), day)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "date": day, "users": recs})
}

type updateSigninRequest struct {
	UserID     string `json:"user_id" binding:"required"`
	Signin     *bool  `json:"signin" binding:"required"`
	LastSignin string `json:"last_signin"`
}

func (h *Handler) updateSignin(c *gin.Context) {
	var req updateSigninRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, bindError(err))
		return
	}

	at := h.dir.Now()
	if req.LastSignin != "" {
		var err error
		if at, err = h.dir.ParseTimestamp(req.LastSignin); err != nil {
			h.fail(c, err)
			return
		}
	}

	rec, err := h.dir.SetAttendanceFlag(c.Request.Context(), req.UserID, at, *req.Signin)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": rec})
}

func (h *Handler) listUsers(c *gin.Context) {
	recs, err := h.dir.ListAll(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, recs)
}

func (h *Handler) getUser(c *gin.Context) {
	rec, err := h.dir.Get(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}
