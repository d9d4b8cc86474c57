package account

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"odportal/internal/auth"
	"odportal/internal/identity"
	"odportal/internal/store"
	"odportal/internal/store/storetest"
)

type fakeGoogle struct {
	id  auth.GoogleIdentity
	err error
}

func (f fakeGoogle) Verify(string) (auth.GoogleIdentity, error) { return f.id, f.err }

var testTokens = TokenConfig{Issuer: "odportal-test", SigningKey: "secret", AccessTTL: time.Minute, RefreshTTL: time.Hour}

func newTestService(t *testing.T, google auth.IDTokenVerifier) (*Service, *store.DB, *auth.MemorySessions) {
	t.Helper()
	db := storetest.New(t)
	sessions := auth.NewMemorySessions()
	profiles := identity.NewService(identity.NewRepository(db.Client), db, zap.NewNop())
	return NewService(db, profiles, sessions, google, testTokens, zap.NewNop()), db, sessions
}

func studentSignUp(email string) SignUpInput {
	return SignUpInput{
		Email:    email,
		Password: "secret1",
		Profile:  identity.ProfileInput{Role: auth.RoleStudent, Name: "Asha", RegisterNumber: "21CS001", Department: "CSE"},
	}
}

func TestSignUpOpensSessionWithRole(t *testing.T) {
	svc, _, sessions := newTestService(t, nil)
	ctx := context.Background()

	res, err := svc.SignUp(ctx, studentSignUp(" Asha@College.edu "))
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if res.Account.Email != "asha@college.edu" {
		t.Fatalf("email not normalized: %q", res.Account.Email)
	}
	if res.Profile == nil || res.Profile.Role != auth.RoleStudent {
		t.Fatalf("expected student profile, got %+v", res.Profile)
	}
	claims, err := auth.Parse(res.Tokens.AccessToken, testTokens.SigningKey, testTokens.Issuer, auth.TypeAccess)
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	sess, err := sessions.Get(ctx, claims.SessionID)
	if err != nil {
		t.Fatalf("session not stored: %v", err)
	}
	if sess.Role != auth.RoleStudent || sess.ProfileID != res.Profile.ID() {
		t.Fatalf("session not resolved: %+v", sess)
	}

	if _, err := svc.SignUp(ctx, studentSignUp("asha@college.edu")); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestSignUpValidation(t *testing.T) {
	svc, db, _ := newTestService(t, nil)

	cases := map[string]SignUpInput{
		"bad email":      {Email: "nope", Password: "secret1", Profile: identity.ProfileInput{Role: auth.RoleStudent, Name: "A"}},
		"short password": {Email: "a@b.edu", Password: "123", Profile: identity.ProfileInput{Role: auth.RoleStudent, Name: "A"}},
		"unknown role":   {Email: "a@b.edu", Password: "secret1", Profile: identity.ProfileInput{Role: "admin", Name: "A"}},
		"missing name":   {Email: "a@b.edu", Password: "secret1", Profile: identity.ProfileInput{Role: auth.RoleTeacher}},
	}
	for name, in := range cases {
		if _, err := svc.SignUp(context.Background(), in); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%s: expected ErrInvalidInput, got %v", name, err)
		}
	}

	var n int
	if err := db.Client.QueryRow(`SELECT COUNT(*) FROM accounts`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no accounts after invalid sign-ups, got %d", n)
	}
}

func TestSignIn(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()
	if _, err := svc.SignUp(ctx, studentSignUp("asha@college.edu")); err != nil {
		t.Fatalf("sign up: %v", err)
	}

	res, err := svc.SignIn(ctx, "ASHA@college.edu", "secret1")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if res.Profile == nil || res.Profile.Role != auth.RoleStudent {
		t.Fatalf("expected student profile, got %+v", res.Profile)
	}
	if _, err := svc.SignIn(ctx, "asha@college.edu", "wrong-pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.SignIn(ctx, "ghost@college.edu", "secret1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()
	first, err := svc.SignUp(ctx, studentSignUp("asha@college.edu"))
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}

	second, err := svc.Refresh(ctx, first.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if second.Tokens.RefreshToken == first.Tokens.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}
	a, _ := auth.Parse(first.Tokens.AccessToken, testTokens.SigningKey, testTokens.Issuer, auth.TypeAccess)
	b, _ := auth.Parse(second.Tokens.AccessToken, testTokens.SigningKey, testTokens.Issuer, auth.TypeAccess)
	if a.SessionID != b.SessionID {
		t.Fatalf("refresh changed session %q -> %q", a.SessionID, b.SessionID)
	}

	if _, err := svc.Refresh(ctx, first.Tokens.RefreshToken); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected reuse of rotated token to fail, got %v", err)
	}
	if _, err := svc.Refresh(ctx, first.Tokens.AccessToken); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected access token to be refused, got %v", err)
	}
}

func TestSignOutEndsSession(t *testing.T) {
	svc, _, sessions := newTestService(t, nil)
	ctx := context.Background()
	res, err := svc.SignUp(ctx, studentSignUp("asha@college.edu"))
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	claims, _ := auth.Parse(res.Tokens.AccessToken, testTokens.SigningKey, testTokens.Issuer, auth.TypeAccess)

	svc.SignOut(ctx, auth.Principal{AccountID: res.Account.ID, SessionID: claims.SessionID})
	if _, err := sessions.Get(ctx, claims.SessionID); !errors.Is(err, auth.ErrSessionNotFound) {
		t.Fatalf("expected session removed, got %v", err)
	}
	if _, err := svc.Refresh(ctx, res.Tokens.RefreshToken); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected refresh after sign-out to fail, got %v", err)
	}

	// signing out twice is still a success for the caller
	svc.SignOut(ctx, auth.Principal{AccountID: res.Account.ID, SessionID: claims.SessionID})
}

func TestSignInWithGoogle(t *testing.T) {
	google := fakeGoogle{id: auth.GoogleIdentity{Subject: "g-123", Email: "ravi@college.edu", EmailVerified: true, Name: "Ravi"}}
	svc, _, _ := newTestService(t, google)
	ctx := context.Background()

	res, err := svc.SignInWithGoogle(ctx, "id-token")
	if err != nil {
		t.Fatalf("google sign in: %v", err)
	}
	if res.Profile != nil {
		t.Fatalf("new federated account should have no profile, got %+v", res.Profile)
	}

	again, err := svc.SignInWithGoogle(ctx, "id-token")
	if err != nil {
		t.Fatalf("second google sign in: %v", err)
	}
	if again.Account.ID != res.Account.ID {
		t.Fatalf("expected same account, got %q and %q", res.Account.ID, again.Account.ID)
	}

	if _, err := svc.SignIn(ctx, "ravi@college.edu", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("password sign-in to federated account should fail, got %v", err)
	}
}

func TestSignInWithGoogleLinksExistingEmail(t *testing.T) {
	google := fakeGoogle{id: auth.GoogleIdentity{Subject: "g-1", Email: "asha@college.edu", EmailVerified: true}}
	svc, _, _ := newTestService(t, google)
	ctx := context.Background()
	signed, err := svc.SignUp(ctx, studentSignUp("asha@college.edu"))
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}

	res, err := svc.SignInWithGoogle(ctx, "id-token")
	if err != nil {
		t.Fatalf("google sign in: %v", err)
	}
	if res.Account.ID != signed.Account.ID || res.Profile == nil || res.Profile.Role != auth.RoleStudent {
		t.Fatalf("expected linked student account, got %+v", res)
	}
}

func TestSignInWithGoogleFailures(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	if _, err := svc.SignInWithGoogle(context.Background(), "x"); !errors.Is(err, auth.ErrFederationDisabled) {
		t.Fatalf("expected ErrFederationDisabled, got %v", err)
	}

	svc, _, _ = newTestService(t, fakeGoogle{err: auth.ErrInvalidToken})
	if _, err := svc.SignInWithGoogle(context.Background(), "x"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	// an unverified address must neither take over a password account nor create one
	ctx := context.Background()
	svc, _, _ = newTestService(t, fakeGoogle{id: auth.GoogleIdentity{Subject: "g-evil", Email: "asha@college.edu"}})
	if _, err := svc.SignUp(ctx, studentSignUp("asha@college.edu")); err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if _, err := svc.SignInWithGoogle(ctx, "x"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unverified email, got %v", err)
	}
	acct, err := svc.repo.ByEmail(ctx, "asha@college.edu")
	if err != nil || acct == nil {
		t.Fatalf("lookup account: %v", err)
	}
	if acct.GoogleSub != "" {
		t.Fatalf("unverified google identity was linked: %q", acct.GoogleSub)
	}

	svc, _, _ = newTestService(t, fakeGoogle{id: auth.GoogleIdentity{Subject: "g-new", Email: "new@college.edu"}})
	if _, err := svc.SignInWithGoogle(ctx, "x"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unverified new account, got %v", err)
	}
	if acct, err := svc.repo.ByEmail(ctx, "new@college.edu"); err != nil || acct != nil {
		t.Fatalf("unverified google identity created an account: %+v, %v", acct, err)
	}
}
