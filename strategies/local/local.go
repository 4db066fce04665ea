// Package local implements username/email + password authentication as an
// ooth strategy. It stores the bcrypt password hash and hashed
// verification/reset tokens inside its own sub-document; none of those are
// profile fields, so they never reach a client.
package local

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	ooth "github.com/nickredmark/ooth-sub000"
)

// Name is the strategy name and the sub-document key on the user.
const Name = "local"

// Default token lifetimes.
const (
	verificationTokenExpiry  = 24 * time.Hour
	passwordResetTokenExpiry = time.Hour
)

// Options tunes the strategy; the zero value is usable.
type Options struct {
	// MinPasswordLength defaults to 8.
	MinPasswordLength int

	// LoginRate and LoginBurst bound login attempts per identifier.
	// Defaults: 1 attempt/second, burst 5.
	LoginRate  float64
	LoginBurst int

	// RequireVerified rejects logins until the email was verified.
	RequireVerified bool
}

// Strategy is the local-password strategy. Create with New, install with
// ooth.Use.
type Strategy struct {
	opts     Options
	validate *validator.Validate
	limiter  *loginLimiter
	now      func() time.Time
}

var _ ooth.Strategy = (*Strategy)(nil)

func New(opts Options) *Strategy {
	if opts.MinPasswordLength <= 0 {
		opts.MinPasswordLength = 8
	}
	if opts.LoginRate <= 0 {
		opts.LoginRate = 1
	}
	if opts.LoginBurst <= 0 {
		opts.LoginBurst = 5
	}
	return &Strategy{
		opts:     opts,
		validate: validator.New(),
		limiter:  newLoginLimiter(opts.LoginRate, opts.LoginBurst),
		now:      time.Now,
	}
}

func (s *Strategy) Name() string { return Name }

// Install registers fields, methods and the login primary auth.
func (s *Strategy) Install(o *ooth.Ooth) error {
	o.RegisterProfileFields(Name, "username", "email", "verified")
	o.RegisterStrategyUniqueField(Name, "username", "email")
	o.RegisterUniqueField(Name, "email", "email")

	o.RegisterMethod(Name, "register", []ooth.Guard{ooth.RequireNotRegistered}, s.register(o))
	o.RegisterPrimaryAuth(Name, "login", nil, s.login(o))
	o.RegisterMethod(Name, "verify", nil, s.verify(o))
	o.RegisterMethod(Name, "forgot-password", []ooth.Guard{ooth.RequireNotLogged}, s.forgotPassword(o))
	o.RegisterMethod(Name, "reset-password", nil, s.resetPassword(o))
	o.RegisterMethod(Name, "change-password", []ooth.Guard{ooth.RequireLogged, ooth.RequireRegisteredWith(Name)}, s.changePassword(o))
	o.RegisterMethod(Name, "set-email", []ooth.Guard{ooth.RequireLogged}, s.setEmail(o))
	return nil
}

type registerBody struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Username string `json:"username" validate:"omitempty,min=3,max=20,alphanum"`
}

func (s *Strategy) register(o *ooth.Ooth) ooth.MethodHandler {
	return func(ctx context.Context, body json.RawMessage, userID, locale string) (map[string]any, error) {
		var req registerBody
		if err := s.decode(body, &req); err != nil {
			return nil, err
		}
		if err := s.checkPassword(req.Password); err != nil {
			return nil, err
		}
		req.Email = normalizeEmail(req.Email)

		if err := s.ensureEmailFree(ctx, o, req.Email, userID); err != nil {
			return nil, err
		}
		if req.Username != "" {
			if err := s.ensureUsernameFree(ctx, o, req.Username, userID); err != nil {
				return nil, err
			}
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hashing password: %w", err)
		}
		token, tokenHash, err := newToken()
		if err != nil {
			return nil, err
		}

		claims := ooth.Values{
			"email":                      req.Email,
			"password":                   string(hash),
			"verified":                   false,
			"verificationToken":          tokenHash,
			"verificationTokenExpiresAt": s.now().Add(verificationTokenExpiry).Unix(),
		}
		if req.Username != "" {
			claims["username"] = req.Username
		}

		// With an active session (e.g. a guest account) this links the local
		// credentials to the existing user instead of creating a new one.
		id, _, err := o.ResolveUser(ctx, Name, claims, userID)
		if err != nil {
			return nil, err
		}
		if err := o.Emit(ctx, Name, "register", ooth.Values{
			"_id":               id,
			"email":             req.Email,
			"verificationToken": token,
		}); err != nil {
			return nil, err
		}
		return map[string]any{"message": "Thank you for registering. Please check your email to verify your account."}, nil
	}
}

type loginBody struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (s *Strategy) login(o *ooth.Ooth) ooth.PrimaryAuthFunc {
	return func(ctx context.Context, body json.RawMessage, userID string, r *http.Request) (string, error) {
		var req loginBody
		if err := s.decode(body, &req); err != nil {
			return "", err
		}
		if !s.limiter.allow(strings.ToLower(req.Username)) {
			return "", ooth.NewError(ooth.CodeValidation, "Too many login attempts, try again later", "username")
		}

		u, err := s.findByIdentifier(ctx, o, req.Username)
		if err != nil {
			return "", err
		}
		// A uniform failure keeps account existence private.
		invalid := ooth.NewError(ooth.CodeInvalidCredentials, "Invalid credentials", "password")
		if u == nil {
			return "", invalid
		}
		values := u.Strategy(Name)
		hash, _ := values["password"].(string)
		if hash == "" {
			return "", invalid
		}
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)); err != nil {
			return "", invalid
		}
		if s.opts.RequireVerified {
			if verified, _ := values["verified"].(bool); !verified {
				return "", ooth.NewError(ooth.CodeValidation, "Please verify your email before logging in", "email")
			}
		}
		return u.ID, nil
	}
}

type verifyBody struct {
	Token string `json:"token" validate:"required"`
}

func (s *Strategy) verify(o *ooth.Ooth) ooth.MethodHandler {
	return func(ctx context.Context, body json.RawMessage, userID, locale string) (map[string]any, error) {
		var req verifyBody
		if err := s.decode(body, &req); err != nil {
			return nil, err
		}
		u, err := o.Backend().GetUser(ctx, map[ooth.FieldKey]any{
			{Strategy: Name, Field: "verificationToken"}: hashToken(req.Token),
		})
		if err != nil {
			return nil, ooth.WrapBackendError(err)
		}
		if u == nil || s.expired(u.Strategy(Name)["verificationTokenExpiresAt"]) {
			return nil, ooth.NewError(ooth.CodeTokenInvalid, "Invalid or expired verification token", "token")
		}
		err = o.Backend().UpdateUser(ctx, u.ID, map[string]ooth.Values{Name: {
			"verified":                   true,
			"verificationToken":          nil,
			"verificationTokenExpiresAt": nil,
		}})
		if err != nil {
			return nil, ooth.WrapBackendError(err)
		}
		email, _ := u.Strategy(Name)["email"].(string)
		if err := o.Emit(ctx, Name, "verify", ooth.Values{"_id": u.ID, "email": email}); err != nil {
			return nil, err
		}
		return map[string]any{"message": "Email verified"}, nil
	}
}

type forgotPasswordBody struct {
	Username string `json:"username" validate:"required"`
}

func (s *Strategy) forgotPassword(o *ooth.Ooth) ooth.MethodHandler {
	return func(ctx context.Context, body json.RawMessage, userID, locale string) (map[string]any, error) {
		var req forgotPasswordBody
		if err := s.decode(body, &req); err != nil {
			return nil, err
		}
		// Respond identically whether or not the account exists.
		success := map[string]any{"message": "If that account exists, a reset link has been sent."}

		u, err := s.findByIdentifier(ctx, o, req.Username)
		if err != nil || u == nil {
			return success, err
		}
		token, tokenHash, err := newToken()
		if err != nil {
			return nil, err
		}
		err = o.Backend().UpdateUser(ctx, u.ID, map[string]ooth.Values{Name: {
			"passwordResetToken":          tokenHash,
			"passwordResetTokenExpiresAt": s.now().Add(passwordResetTokenExpiry).Unix(),
		}})
		if err != nil {
			return nil, ooth.WrapBackendError(err)
		}
		email, _ := u.Strategy(Name)["email"].(string)
		if err := o.Emit(ctx, Name, "forgot-password", ooth.Values{
			"_id":                u.ID,
			"email":              email,
			"passwordResetToken": token,
		}); err != nil {
			return nil, err
		}
		return success, nil
	}
}

type resetPasswordBody struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required"`
}

func (s *Strategy) resetPassword(o *ooth.Ooth) ooth.MethodHandler {
	return func(ctx context.Context, body json.RawMessage, userID, locale string) (map[string]any, error) {
		var req resetPasswordBody
		if err := s.decode(body, &req); err != nil {
			return nil, err
		}
		if err := s.checkPassword(req.NewPassword); err != nil {
			return nil, err
		}
		u, err := o.Backend().GetUser(ctx, map[ooth.FieldKey]any{
			{Strategy: Name, Field: "passwordResetToken"}: hashToken(req.Token),
		})
		if err != nil {
			return nil, ooth.WrapBackendError(err)
		}
		if u == nil || s.expired(u.Strategy(Name)["passwordResetTokenExpiresAt"]) {
			return nil, ooth.NewError(ooth.CodeTokenInvalid, "Invalid or expired reset token", "token")
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hashing password: %w", err)
		}
		err = o.Backend().UpdateUser(ctx, u.ID, map[string]ooth.Values{Name: {
			"password":                    string(hash),
			"passwordResetToken":          nil,
			"passwordResetTokenExpiresAt": nil,
		}})
		if err != nil {
			return nil, ooth.WrapBackendError(err)
		}
		email, _ := u.Strategy(Name)["email"].(string)
		if err := o.Emit(ctx, Name, "reset-password", ooth.Values{"_id": u.ID, "email": email}); err != nil {
			return nil, err
		}
		return map[string]any{"message": "Password has been reset"}, nil
	}
}

type changePasswordBody struct {
	Password    string `json:"password"`
	NewPassword string `json:"newPassword" validate:"required"`
}

func (s *Strategy) changePassword(o *ooth.Ooth) ooth.MethodHandler {
	return func(ctx context.Context, body json.RawMessage, userID, locale string) (map[string]any, error) {
		var req changePasswordBody
		if err := s.decode(body, &req); err != nil {
			return nil, err
		}
		if err := s.checkPassword(req.NewPassword); err != nil {
			return nil, err
		}
		u, err := o.Backend().GetUserByID(ctx, userID)
		if err != nil {
			return nil, ooth.WrapBackendError(err)
		}
		values := u.Strategy(Name)
		if hash, _ := values["password"].(string); hash != "" {
			if bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)) != nil {
				return nil, ooth.NewError(ooth.CodeInvalidCredentials, "Invalid credentials", "password")
			}
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hashing password: %w", err)
		}
		err = o.Backend().UpdateUser(ctx, userID, map[string]ooth.Values{Name: {
			"password": string(hash),
		}})
		if err != nil {
			return nil, ooth.WrapBackendError(err)
		}
		if err := o.Emit(ctx, Name, "change-password", ooth.Values{"_id": userID}); err != nil {
			return nil, err
		}
		return map[string]any{"message": "Password changed"}, nil
	}
}

type setEmailBody struct {
	Email string `json:"email" validate:"required,email"`
}

func (s *Strategy) setEmail(o *ooth.Ooth) ooth.MethodHandler {
	return func(ctx context.Context, body json.RawMessage, userID, locale string) (map[string]any, error) {
		var req setEmailBody
		if err := s.decode(body, &req); err != nil {
			return nil, err
		}
		req.Email = normalizeEmail(req.Email)
		if err := s.ensureEmailFree(ctx, o, req.Email, userID); err != nil {
			return nil, err
		}
		token, tokenHash, err := newToken()
		if err != nil {
			return nil, err
		}
		err = o.Backend().UpdateUser(ctx, userID, map[string]ooth.Values{Name: {
			"email":                      req.Email,
			"verified":                   false,
			"verificationToken":          tokenHash,
			"verificationTokenExpiresAt": s.now().Add(verificationTokenExpiry).Unix(),
		}})
		if err != nil {
			return nil, ooth.WrapBackendError(err)
		}
		if err := o.Emit(ctx, Name, "set-email", ooth.Values{
			"_id":               userID,
			"email":             req.Email,
			"verificationToken": token,
		}); err != nil {
			return nil, err
		}
		return map[string]any{"message": "Email updated. Please check your email to verify it."}, nil
	}
}

// findByIdentifier accepts an email or username; anything containing "@" is
// treated as an email first.
func (s *Strategy) findByIdentifier(ctx context.Context, o *ooth.Ooth, identifier string) (*ooth.User, error) {
	field := "username"
	if strings.Contains(identifier, "@") {
		field = "email"
		identifier = normalizeEmail(identifier)
	}
	u, err := o.Backend().GetUser(ctx, map[ooth.FieldKey]any{
		{Strategy: Name, Field: field}: identifier,
	})
	if err != nil {
		return nil, ooth.WrapBackendError(err)
	}
	return u, nil
}

// ensureEmailFree checks the address across every strategy claiming the
// logical email field, so an OAuth-registered address cannot be squatted.
func (s *Strategy) ensureEmailFree(ctx context.Context, o *ooth.Ooth, email, userID string) error {
	u, err := o.Backend().GetUserByValue(ctx, o.UniqueFieldKeys("email"), email)
	if err != nil {
		return ooth.WrapBackendError(err)
	}
	if u != nil && u.ID != userID {
		return ooth.NewError(ooth.CodeValidation, "This email is already registered", "email")
	}
	return nil
}

func (s *Strategy) ensureUsernameFree(ctx context.Context, o *ooth.Ooth, username, userID string) error {
	u, err := o.Backend().GetUser(ctx, map[ooth.FieldKey]any{
		{Strategy: Name, Field: "username"}: username,
	})
	if err != nil {
		return ooth.WrapBackendError(err)
	}
	if u != nil && u.ID != userID {
		return ooth.NewError(ooth.CodeValidation, "This username is already taken", "username")
	}
	return nil
}

func (s *Strategy) decode(body json.RawMessage, dst any) error {
	if len(body) == 0 {
		return ooth.NewValidationError("Missing request body", "")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return ooth.NewValidationError("Invalid request body", "")
	}
	if err := s.validate.Struct(dst); err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) && len(invalid) > 0 {
			field := strings.ToLower(invalid[0].Field())
			return ooth.NewValidationError(fmt.Sprintf("Invalid value for %s", field), field)
		}
		return ooth.NewValidationError("Invalid request body", "")
	}
	return nil
}

func (s *Strategy) checkPassword(password string) error {
	if len(password) < s.opts.MinPasswordLength {
		return ooth.NewValidationError(
			fmt.Sprintf("Password must be at least %d characters", s.opts.MinPasswordLength), "password")
	}
	return nil
}

func (s *Strategy) expired(raw any) bool {
	return asUnix(raw) < s.now().Unix()
}

// asUnix tolerates the numeric types different backends round-trip.
func asUnix(raw any) int64 {
	switch v := raw.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// newToken returns a fresh single-use token and the hash under which it is
// stored. Only the hash ever touches the backend.
func newToken() (token, tokenHash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generating token: %w", err)
	}
	token = hex.EncodeToString(b)
	return token, hashToken(token), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
