package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"odportal/internal/auth"
	"odportal/internal/identity"
	"odportal/internal/store"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSessionExpired     = errors.New("session expired")
	ErrNotFound           = errors.New("account not found")
)

// Profiles is the identity surface the account flows need.
type Profiles interface {
	Resolve(ctx context.Context, accountID string) (*identity.Profile, error)
	CreateProfileTx(ctx context.Context, q store.Querier, accountID, email string, in identity.ProfileInput) (*identity.Profile, error)
}

// TokenConfig controls token signing and lifetimes.
type TokenConfig struct {
	Issuer     string
	SigningKey string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// SignUpInput is the payload of an email sign-up.
type SignUpInput struct {
	Email    string                `json:"email" validate:"required,email,max=254"`
	Password string                `json:"password" validate:"required,min=6,max=72"`
	Profile  identity.ProfileInput `json:"profile"`
}

// Result is returned by every flow that opens a session.
type Result struct {
	Tokens  auth.TokenPair    `json:"tokens"`
	Account Account           `json:"account"`
	Profile *identity.Profile `json:"profile"`
}

// Service implements sign-up, sign-in and session lifecycle.
type Service struct {
	db       *store.DB
	repo     *Repository
	profiles Profiles
	sessions auth.SessionStore
	google   auth.IDTokenVerifier
	tokens   TokenConfig
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

// NewService wires the account flows. google may be nil when federation is not configured.
func NewService(db *store.DB, profiles Profiles, sessions auth.SessionStore, google auth.IDTokenVerifier, tokens TokenConfig, logger *zap.Logger) *Service {
	return &Service{
		db:       db,
		repo:     NewRepository(db.Client),
		profiles: profiles,
		sessions: sessions,
		google:   google,
		tokens:   tokens,
		validate: validator.New(),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SignUp creates the account and its profile in one transaction, then signs in.
func (s *Service) SignUp(ctx context.Context, in SignUpInput) (Result, error) {
	in.Email = normalizeEmail(in.Email)
	in.Profile.Name = strings.TrimSpace(in.Profile.Name)
	if err := s.validate.Struct(in); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return Result{}, err
	}

	acct := Account{ID: uuid.NewString(), Email: in.Email, PasswordHash: hash, CreatedAt: s.now()}
	var profile *identity.Profile
	err = s.db.WithTx(ctx, func(q store.Querier) error {
		if err := s.repo.Insert(ctx, q, acct); err != nil {
			if store.IsUniqueViolation(err) {
				return ErrEmailTaken
			}
			return err
		}
		p, err := s.profiles.CreateProfileTx(ctx, q, acct.ID, acct.Email, in.Profile)
		if err != nil {
			return err
		}
		profile = p
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	s.logger.Info("account created", zap.String("account_id", acct.ID), zap.String("role", string(profile.Role)))
	return s.openSession(ctx, acct, profile)
}

// SignIn checks email and password.
func (s *Service) SignIn(ctx context.Context, email, password string) (Result, error) {
	acct, err := s.repo.ByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return Result{}, err
	}
	if acct == nil || acct.PasswordHash == "" || auth.CheckPassword(acct.PasswordHash, password) != nil {
		return Result{}, ErrInvalidCredentials
	}
	return s.openSession(ctx, *acct, s.resolve(ctx, acct.ID))
}

// SignInWithGoogle verifies a Google ID token. Unknown subjects are linked to an
// account with the same email, or get a new password-less account without a profile.
// Both require a verified email on the token.
func (s *Service) SignInWithGoogle(ctx context.Context, idToken string) (Result, error) {
	if s.google == nil {
		return Result{}, auth.ErrFederationDisabled
	}
	gid, err := s.google.Verify(idToken)
	if err != nil {
		if errors.Is(err, auth.ErrFederationDisabled) {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	acct, err := s.repo.ByGoogleSub(ctx, gid.Subject)
	if err != nil {
		return Result{}, err
	}
	if acct == nil && !gid.EmailVerified {
		s.logger.Warn("google sign-in with unverified email refused", zap.String("subject", gid.Subject))
		return Result{}, fmt.Errorf("%w: google email not verified", ErrInvalidCredentials)
	}
	if acct == nil {
		acct, err = s.repo.ByEmail(ctx, gid.Email)
		if err != nil {
			return Result{}, err
		}
		if acct != nil {
			if err := s.repo.LinkGoogle(ctx, acct.ID, gid.Subject); err != nil {
				return Result{}, err
			}
			acct.GoogleSub = gid.Subject
		}
	}
	if acct == nil {
		acct = &Account{ID: uuid.NewString(), Email: gid.Email, GoogleSub: gid.Subject, CreatedAt: s.now()}
		if err := s.repo.Insert(ctx, s.db.Client, *acct); err != nil {
			if store.IsUniqueViolation(err) {
				return Result{}, ErrEmailTaken
			}
			return Result{}, err
		}
		s.logger.Info("account created from google sign-in", zap.String("account_id", acct.ID))
	}
	return s.openSession(ctx, *acct, s.resolve(ctx, acct.ID))
}

// Refresh rotates a refresh token and issues a new pair on the same session.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Result, error) {
	claims, err := auth.Parse(refreshToken, s.tokens.SigningKey, s.tokens.Issuer, auth.TypeRefresh)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}
	stored, err := s.repo.GetRefreshToken(ctx, refreshToken)
	if err != nil {
		return Result{}, err
	}
	if stored == nil || stored.Revoked || !s.now().Before(stored.ExpiresAt) || stored.AccountID != claims.Subject {
		return Result{}, ErrSessionExpired
	}
	sess, err := s.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, auth.ErrSessionNotFound) {
			return Result{}, ErrSessionExpired
		}
		return Result{}, err
	}
	revoked, err := s.repo.RevokeRefreshToken(ctx, refreshToken)
	if err != nil {
		return Result{}, err
	}
	if !revoked {
		return Result{}, ErrSessionExpired
	}

	acct, err := s.repo.ByID(ctx, claims.Subject)
	if err != nil {
		return Result{}, err
	}
	if acct == nil {
		return Result{}, ErrSessionExpired
	}
	profile := s.resolve(ctx, acct.ID)
	if sess.Role == auth.RoleNone && profile != nil {
		sess.Role, sess.ProfileID = profile.Role, profile.ID()
	}
	if err := s.sessions.Save(ctx, sess, s.tokens.RefreshTTL); err != nil {
		return Result{}, err
	}
	pair, err := s.issue(ctx, *acct, sess.ID)
	if err != nil {
		return Result{}, err
	}
	return Result{Tokens: pair, Account: *acct, Profile: profile}, nil
}

// SignOut ends the session. It never fails from the caller's point of view.
func (s *Service) SignOut(ctx context.Context, p auth.Principal) {
	if err := s.sessions.Delete(ctx, p.SessionID); err != nil {
		s.logger.Warn("session delete failed", zap.String("session_id", p.SessionID), zap.Error(err))
	}
	if err := s.repo.RevokeSession(ctx, p.SessionID); err != nil {
		s.logger.Warn("refresh token revoke failed", zap.String("session_id", p.SessionID), zap.Error(err))
	}
}

// Me returns the account and its current profile.
func (s *Service) Me(ctx context.Context, accountID string) (Account, *identity.Profile, error) {
	acct, err := s.repo.ByID(ctx, accountID)
	if err != nil {
		return Account{}, nil, err
	}
	if acct == nil {
		return Account{}, nil, ErrNotFound
	}
	profile, err := s.profiles.Resolve(ctx, accountID)
	if err != nil {
		return Account{}, nil, err
	}
	return *acct, profile, nil
}

// resolve looks up the profile for a new session. Failures leave the role empty
// and RequireSession retries on later requests.
func (s *Service) resolve(ctx context.Context, accountID string) *identity.Profile {
	p, err := s.profiles.Resolve(ctx, accountID)
	if err != nil {
		s.logger.Warn("profile resolution at sign-in failed", zap.String("account_id", accountID), zap.Error(err))
		return nil
	}
	return p
}

func (s *Service) openSession(ctx context.Context, acct Account, profile *identity.Profile) (Result, error) {
	sess := auth.Session{ID: uuid.NewString(), AccountID: acct.ID, Email: acct.Email, CreatedAt: s.now()}
	if profile != nil {
		sess.Role, sess.ProfileID = profile.Role, profile.ID()
	}
	if err := s.sessions.Save(ctx, sess, s.tokens.RefreshTTL); err != nil {
		return Result{}, fmt.Errorf("save session: %w", err)
	}
	pair, err := s.issue(ctx, acct, sess.ID)
	if err != nil {
		return Result{}, err
	}
	return Result{Tokens: pair, Account: acct, Profile: profile}, nil
}

func (s *Service) issue(ctx context.Context, acct Account, sessionID string) (auth.TokenPair, error) {
	pair, err := auth.Issue(acct.ID, sessionID, acct.Email, s.tokens.Issuer, s.tokens.SigningKey, s.tokens.AccessTTL, s.tokens.RefreshTTL)
	if err != nil {
		return auth.TokenPair{}, err
	}
	if err := s.repo.SaveRefreshToken(ctx, RefreshToken{
		Token:     pair.RefreshToken,
		AccountID: acct.ID,
		SessionID: sessionID,
		ExpiresAt: pair.RefreshExp.UTC(),
	}); err != nil {
		return auth.TokenPair{}, fmt.Errorf("save refresh token: %w", err)
	}
	return pair, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
