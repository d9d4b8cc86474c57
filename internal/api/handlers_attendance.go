package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"odportal/internal/auth"
	"odportal/internal/directory"
	"odportal/internal/events"
)

// ---------- Attendance ----------

// ApprovedForStudent lists the caller's approved requests with their marks.
func (h *Handler) ApprovedForStudent(c *gin.Context) {
	p, _ := auth.PrincipalFrom(c)
	reqs, err := h.requests.ListApprovedForStudent(c.Request.Context(), p)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": reqs})
}

// AttendanceStatus returns the existing mark for ?date=, or null.
func (h *Handler) AttendanceStatus(c *gin.Context) {
	p, _ := auth.PrincipalFrom(c)
	rec, err := h.attendance.Status(c.Request.Context(), p, c.Param("id"), c.Query("date"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": rec, "marked": rec != nil})
}

type markRequest struct {
	Date      string `json:"date"`
	IsPresent *bool  `json:"is_present" binding:"required"`
}

// MarkAttendance records presence for one date of an approved request.
func (h *Handler) MarkAttendance(c *gin.Context) {
	p, _ := auth.PrincipalFrom(c)
	var req markRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_json", err.Error())
		return
	}
	rec, err := h.attendance.Mark(c.Request.Context(), p, c.Param("id"), req.Date, *req.IsPresent)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// Calendar groups present students by date.
func (h *Handler) Calendar(c *gin.Context) {
	p, _ := auth.PrincipalFrom(c)
	days, err := h.attendance.Calendar(c.Request.Context(), p)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"days": days})
}

// CalendarDay lists the students present on one date.
func (h *Handler) CalendarDay(c *gin.Context) {
	p, _ := auth.PrincipalFrom(c)
	students, err := h.attendance.Day(c.Request.Context(), p, c.Param("date"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": c.Param("date"), "students": students})
}

// ---------- Events ----------

func (h *Handler) ListEvents(c *gin.Context) {
	list, err := h.events.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": list})
}

func (h *Handler) CreateEvent(c *gin.Context) {
	p, _ := auth.PrincipalFrom(c)
	var in events.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid_json", err.Error())
		return
	}
	evt, err := h.events.Create(c.Request.Context(), p, in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, evt)
}

// ---------- Students ----------

func (h *Handler) Students(c *gin.Context) {
	p, _ := auth.PrincipalFrom(c)
	list, err := h.directory.Students(c.Request.Context(), p, directory.Filter{
		Search:     c.Query("search"),
		Department: c.Query("department"),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": list})
}

func (h *Handler) Departments(c *gin.Context) {
	p, _ := auth.PrincipalFrom(c)
	list, err := h.directory.Departments(c.Request.Context(), p)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"departments": list})
}
