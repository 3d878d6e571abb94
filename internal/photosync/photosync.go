// Package photosync mirrors stored profile pictures to Cloudinary so the
// admin view can link to a CDN URL instead of inlining base64.
package photosync

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"kiosk/internal/cloudinary"
	"kiosk/internal/directory"
	"kiosk/internal/metrics"
	"kiosk/internal/photo"
	"kiosk/internal/queue"
)

// Records is the part of the directory the processor needs.
type Records interface {
	Get(ctx context.Context, userID string) (directory.Record, error)
	AttachPictureURL(ctx context.Context, userID, url string) error
}

type Uploader interface {
	UploadDataURL(ctx context.Context, dataURL, publicID string) (*cloudinary.UploadResult, error)
}

// Processor handles profile_pic queue messages.
type Processor struct {
	records  Records
	uploader Uploader
	logger   zerolog.Logger
}

func New(records Records, uploader Uploader) *Processor {
	return &Processor{
		records:  records,
		uploader: uploader,
		logger:   log.Logger.With().Str("component", "photosync").Logger(),
	}
}

// Handle mirrors the picture named by msg. Messages of other types are ignored.
func (p *Processor) Handle(ctx context.Context, msg queue.Message) error {
	if msg.Type != queue.TypeProfilePic {
		return nil
	}
	userID := string(msg.Body)

	rec, err := p.records.Get(ctx, userID)
	if err != nil {
		metrics.PicturesMirrored.WithLabelValues("lookup_failed").Inc()
		return err
	}
	if rec.ProfilePic == "" {
		metrics.PicturesMirrored.WithLabelValues("skipped").Inc()
		return nil
	}

	res, err := p.uploader.UploadDataURL(ctx, photo.DataURL(rec.ProfilePic), "user_"+userID)
	if err != nil {
		metrics.PicturesMirrored.WithLabelValues("upload_failed").Inc()
		return err
	}
	if err := p.records.AttachPictureURL(ctx, userID, res.SecureURL); err != nil {
		metrics.PicturesMirrored.WithLabelValues("store_failed").Inc()
		return err
	}
	metrics.PicturesMirrored.WithLabelValues("ok").Inc()
	p.logger.Info().Str("user_id", userID).Str("url", res.SecureURL).Msg("profile picture mirrored")
	return nil
}

// Run consumes q until ctx is cancelled. Failed messages are logged and dropped.
func (p *Processor) Run(ctx context.Context, q queue.Queue) error {
	msgs, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	p.logger.Info().Msg("waiting for messages")
	for msg := range msgs {
		if err := p.Handle(ctx, msg); err != nil {
			p.logger.Error().Err(err).Str("msg_id", msg.ID).Str("type", msg.Type).Msg("message failed")
		}
	}
	p.logger.Info().Msg("stopped")
	return nil
}
