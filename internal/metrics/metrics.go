package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kiosk",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	Signups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kiosk",
		Name:      "signups_total",
		Help:      "Signup attempts by result.",
	}, []string{"result"})

	Signins = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kiosk",
		Name:      "signins_total",
		Help:      "Sign-in attempts by result.",
	}, []string{"result"})

	Uploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kiosk",
		Name:      "profile_pic_uploads_total",
		Help:      "Profile picture uploads by result.",
	}, []string{"result"})

	PicturesMirrored = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kiosk",
		Name:      "profile_pic_mirrors_total",
		Help:      "Profile pictures mirrored to the CDN by result.",
	}, []string{"result"})

	FlagsCleared = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kiosk",
		Name:      "attendance_flags_cleared_total",
		Help:      "Attendance flags lowered by the daily sweep.",
	})
)

// GinMiddleware observes request latency. Unmatched routes share one label.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		RequestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
