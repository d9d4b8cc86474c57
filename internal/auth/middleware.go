package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const principalKey = "principal"

// Principal is the authenticated caller attached to each request.
type Principal struct {
	AccountID string
	Email     string
	SessionID string
	Role      Role
	ProfileID string
}

// IsStudent reports whether the caller resolved to a student profile.
func (p Principal) IsStudent() bool { return p.Role == RoleStudent }

// IsTeacher reports whether the caller resolved to a teacher profile.
func (p Principal) IsTeacher() bool { return p.Role == RoleTeacher }

var (
	ErrNoProfile = errors.New("account has no profile")
	ErrForbidden = errors.New("not allowed for this role")
)

// RequireStudent returns nil for students, ErrNoProfile for role-less callers
// and ErrForbidden otherwise.
func (p Principal) RequireStudent() error {
	return p.require(RoleStudent)
}

// RequireTeacher is RequireStudent for teachers.
func (p Principal) RequireTeacher() error {
	return p.require(RoleTeacher)
}

func (p Principal) require(role Role) error {
	switch p.Role {
	case role:
		return nil
	case RoleNone:
		return ErrNoProfile
	}
	return ErrForbidden
}

// RoleResolver looks up the role and profile id of an account. A zero Role
// with a nil error means the account has no profile yet.
type RoleResolver func(ctx context.Context, accountID string) (Role, string, error)

// RequireSession enforces a bearer access token backed by a live session. Sessions
// created before the account had a profile are resolved again and updated.
func RequireSession(signingKey, issuer string, sessions SessionStore, resolve RoleResolver, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_token", "message": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer, TypeAccess)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "message": "invalid token"})
			return
		}

		ctx := c.Request.Context()
		sess, err := sessions.Get(ctx, claims.SessionID)
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session_ended", "message": "session has ended"})
				return
			}
			logger.Error("session lookup failed", zap.String("session_id", claims.SessionID), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "session_unavailable", "message": "session store unavailable"})
			return
		}
		if sess.AccountID != claims.Subject {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "message": "invalid token"})
			return
		}

		if sess.Role == RoleNone && resolve != nil {
			role, profileID, err := resolve(ctx, sess.AccountID)
			if err != nil {
				logger.Warn("profile resolution failed", zap.String("account_id", sess.AccountID), zap.Error(err))
			} else if role.Valid() {
				sess.Role, sess.ProfileID = role, profileID
				if err := sessions.Save(ctx, sess, 0); err != nil {
					logger.Warn("session update failed", zap.String("session_id", sess.ID), zap.Error(err))
				}
			}
		}

		c.Set(principalKey, Principal{
			AccountID: sess.AccountID,
			Email:     sess.Email,
			SessionID: sess.ID,
			Role:      sess.Role,
			ProfileID: sess.ProfileID,
		})
		c.Next()
	}
}

// PrincipalFrom returns the caller set by RequireSession.
func PrincipalFrom(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

// WithPrincipal stores p on the gin context; used by tests and internal routing.
func WithPrincipal(c *gin.Context, p Principal) {
	c.Set(principalKey, p)
}
