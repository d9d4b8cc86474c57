package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"odportal/internal/auth"
	"odportal/internal/odrequest"
)

// ---------- OD requests ----------

// formOverhead is the allowance for the text fields and part headers of a
// create form on top of the attachment itself.
const formOverhead = 64 << 10

// CreateRequest accepts JSON, or a multipart form with an optional "attachment" file.
func (h *Handler) CreateRequest(c *gin.Context) {
	p, _ := auth.PrincipalFrom(c)
	var in odrequest.CreateInput
	var att *odrequest.Attachment

	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		limit := h.opts.MaxAttachmentBytes + formOverhead
		if c.Request.ContentLength > limit {
			h.attachmentTooLarge(c)
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		if err := c.ShouldBind(&in); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				h.attachmentTooLarge(c)
				return
			}
			badRequest(c, "invalid_form", err.Error())
			return
		}
		file, header, err := c.Request.FormFile("attachment")
		switch {
		case err == nil:
			defer file.Close()
			if header.Size > h.opts.MaxAttachmentBytes {
				h.attachmentTooLarge(c)
				return
			}
			att = &odrequest.Attachment{
				Filename:    header.Filename,
				ContentType: header.Header.Get("Content-Type"),
				Body:        file,
			}
		case !errors.Is(err, http.ErrMissingFile):
			badRequest(c, "invalid_form", err.Error())
			return
		}
	} else if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid_json", err.Error())
		return
	}

	req, err := h.requests.Create(c.Request.Context(), p, in, att)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, req)
}

func (h *Handler) attachmentTooLarge(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
		"error":   "attachment_too_large",
		"message": fmt.Sprintf("attachment exceeds %d bytes", h.opts.MaxAttachmentBytes),
	})
}

// ListMine lists the caller's requests, newest first.
func (h *Handler) ListMine(c *gin.Context) {
	p, _ := auth.PrincipalFrom(c)
	limit := 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	reqs, err := h.requests.ListMine(c.Request.Context(), p, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": reqs})
}

// ListPending lists the review queue, oldest first.
func (h *Handler) ListPending(c *gin.Context) {
	p, _ := auth.PrincipalFrom(c)
	reqs, err := h.requests.ListPending(c.Request.Context(), p)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": reqs})
}

// ListApproved lists approved requests with attendance.
func (h *Handler) ListApproved(c *gin.Context) {
	p, _ := auth.PrincipalFrom(c)
	reqs, err := h.requests.ListApproved(c.Request.Context(), p)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": reqs})
}

// GetRequest returns one request.
func (h *Handler) GetRequest(c *gin.Context) {
	p, _ := auth.PrincipalFrom(c)
	req, err := h.requests.Get(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// Approve approves a pending request.
func (h *Handler) Approve(c *gin.Context) {
	p, _ := auth.PrincipalFrom(c)
	req, err := h.requests.Approve(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// Reject rejects a pending request with a reason.
func (h *Handler) Reject(c *gin.Context) {
	p, _ := auth.PrincipalFrom(c)
	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid_json", err.Error())
		return
	}
	req, err := h.requests.Reject(c.Request.Context(), p, c.Param("id"), body.Reason)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}
