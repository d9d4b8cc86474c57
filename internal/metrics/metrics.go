package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ODRequestsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "odportal",
		Name:      "od_requests_created_total",
		Help:      "OD requests submitted by students.",
	})
	ODDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "odportal",
		Name:      "od_decisions_total",
		Help:      "Teacher decisions on OD requests.",
	}, []string{"decision"})
	AttendanceMarked = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "odportal",
		Name:      "attendance_marked_total",
		Help:      "Attendance marks recorded against approved requests.",
	}, []string{"present"})
	AttachmentUploads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "odportal",
		Name:      "attachment_uploads_total",
		Help:      "Attachment uploads by result.",
	}, []string{"result"})
	AttachmentOrphans = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "odportal",
		Name:      "attachment_orphans_total",
		Help:      "Uploaded attachments left without a request, by cleanup outcome.",
	}, []string{"outcome"})
	IdentityInconsistent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "odportal",
		Name:      "identity_inconsistent_total",
		Help:      "Accounts found in both the student and teacher tables.",
	})
	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "odportal",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

func init() {
	prometheus.MustRegister(
		ODRequestsCreated,
		ODDecisions,
		AttendanceMarked,
		AttachmentUploads,
		AttachmentOrphans,
		IdentityInconsistent,
		HTTPDuration,
	)
}

// GinMiddleware records request latency labelled by the matched route template.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		HTTPDuration.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
