package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"odportal/internal/account"
	"odportal/internal/auth"
	"odportal/internal/identity"
)

// ---------- Accounts ----------

// SignUp creates an account with its profile.
func (h *Handler) SignUp(c *gin.Context) {
	var in account.SignUpInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid_json", err.Error())
		return
	}
	res, err := h.accounts.SignUp(c.Request.Context(), in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

type signInRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// SignIn checks email and password.
func (h *Handler) SignIn(c *gin.Context) {
	var req signInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_json", err.Error())
		return
	}
	res, err := h.accounts.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// SignInWithGoogle exchanges a Google ID token for a session.
func (h *Handler) SignInWithGoogle(c *gin.Context) {
	var req struct {
		IDToken string `json:"id_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_json", err.Error())
		return
	}
	res, err := h.accounts.SignInWithGoogle(c.Request.Context(), req.IDToken)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Refresh rotates the refresh token.
func (h *Handler) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_json", err.Error())
		return
	}
	res, err := h.accounts.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// SignOut always succeeds.
func (h *Handler) SignOut(c *gin.Context) {
	p, _ := auth.PrincipalFrom(c)
	h.accounts.SignOut(c.Request.Context(), p)
	c.JSON(http.StatusOK, gin.H{"signed_out": true})
}

// ---------- Profile ----------

// Me returns the caller's account, role and profile. A missing profile is null.
func (h *Handler) Me(c *gin.Context) {
	p, _ := auth.PrincipalFrom(c)
	acct, profile, err := h.accounts.Me(c.Request.Context(), p.AccountID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	var role auth.Role
	if profile != nil {
		role = profile.Role
	}
	c.JSON(http.StatusOK, gin.H{"account": acct, "role": role, "profile": profile})
}

// CreateProfile completes a role-less account.
func (h *Handler) CreateProfile(c *gin.Context) {
	p, _ := auth.PrincipalFrom(c)
	var in identity.ProfileInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid_json", err.Error())
		return
	}
	profile, err := h.profiles.CreateProfile(c.Request.Context(), p.AccountID, p.Email, in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"role": profile.Role, "profile": profile})
}

// Dashboard returns the summary for the caller's role.
func (h *Handler) Dashboard(c *gin.Context) {
	p, _ := auth.PrincipalFrom(c)
	ctx := c.Request.Context()
	switch {
	case p.IsTeacher():
		d, err := h.requests.TeacherDashboard(ctx, p)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"role": p.Role, "dashboard": d})
	case p.IsStudent():
		d, err := h.requests.StudentDashboard(ctx, p)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"role": p.Role, "dashboard": d})
	default:
		h.respondError(c, auth.ErrNoProfile)
	}
}
