package local_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alexedwards/scs/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ooth "github.com/nickredmark/ooth-sub000"
	"github.com/nickredmark/ooth-sub000/backend/memory"
	"github.com/nickredmark/ooth-sub000/strategies/local"
)

type fixture struct {
	server  *httptest.Server
	client  *http.Client
	backend *memory.Backend

	verificationToken string
	resetToken        string
}

func setup(t *testing.T, opts local.Options) *fixture {
	t.Helper()
	f := &fixture{backend: memory.New()}

	o, err := ooth.New(ooth.Config{Backend: f.backend, Sessions: scs.New()})
	require.NoError(t, err)
	require.NoError(t, o.Use(local.New(opts)))

	o.On(local.Name, "register", func(ctx context.Context, payload ooth.Values) error {
		f.verificationToken, _ = payload["verificationToken"].(string)
		return nil
	})
	o.On(local.Name, "set-email", func(ctx context.Context, payload ooth.Values) error {
		f.verificationToken, _ = payload["verificationToken"].(string)
		return nil
	})
	o.On(local.Name, "forgot-password", func(ctx context.Context, payload ooth.Values) error {
		f.resetToken, _ = payload["passwordResetToken"].(string)
		return nil
	})

	f.server = httptest.NewServer(o.Handler())
	t.Cleanup(f.server.Close)
	f.client = f.server.Client()
	return f
}

func newJar(t *testing.T) *cookiejar.Jar {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return jar
}

func (f *fixture) post(t *testing.T, path, body string) (int, map[string]any) {
	t.Helper()
	resp, err := f.client.Post(f.server.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}

func (f *fixture) register(t *testing.T, email, password string) {
	t.Helper()
	status, body := f.post(t, "/local/register",
		`{"email":"`+email+`","password":"`+password+`"}`)
	require.Equal(t, http.StatusOK, status, "register failed: %v", body)
}

func TestRegisterValidation(t *testing.T) {
	f := setup(t, local.Options{})

	tests := []struct {
		name string
		body string
	}{
		{"missing body", ``},
		{"malformed email", `{"email":"not-an-email","password":"hunter2hunter2"}`},
		{"short password", `{"email":"a@example.com","password":"short"}`},
		{"bad username", `{"email":"a@example.com","password":"hunter2hunter2","username":"no spaces!"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := f.post(t, "/local/register", tt.body)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, "error", body["status"])
		})
	}
}

func TestRegisterStoresOnlyHashes(t *testing.T) {
	f := setup(t, local.Options{})
	f.register(t, "a@example.com", "hunter2hunter2")

	u, err := f.backend.GetUser(context.Background(), map[ooth.FieldKey]any{
		{Strategy: local.Name, Field: "email"}: "a@example.com",
	})
	require.NoError(t, err)
	require.NotNil(t, u)

	values := u.Strategy(local.Name)
	assert.True(t, strings.HasPrefix(values["password"].(string), "$2"), "password not bcrypt-hashed")
	assert.NotEqual(t, f.verificationToken, values["verificationToken"],
		"verification token stored in the clear")
	assert.Equal(t, false, values["verified"])
}

func TestRegisterNormalizesEmail(t *testing.T) {
	f := setup(t, local.Options{})
	f.register(t, "MiXeD@Example.COM", "hunter2hunter2")

	status, _ := f.post(t, "/local/login",
		`{"username":"mixed@example.com","password":"hunter2hunter2"}`)
	assert.Equal(t, http.StatusOK, status)
}

func TestRegisterDuplicateUsername(t *testing.T) {
	f := setup(t, local.Options{})
	status, _ := f.post(t, "/local/register",
		`{"email":"a@example.com","password":"hunter2hunter2","username":"alice"}`)
	require.Equal(t, http.StatusOK, status)

	status, body := f.post(t, "/local/register",
		`{"email":"b@example.com","password":"hunter2hunter2","username":"alice"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body["message"], "username")
}

func TestLoginByUsernameOrEmail(t *testing.T) {
	f := setup(t, local.Options{})
	status, _ := f.post(t, "/local/register",
		`{"email":"a@example.com","password":"hunter2hunter2","username":"alice"}`)
	require.Equal(t, http.StatusOK, status)

	for _, identifier := range []string{"alice", "a@example.com"} {
		status, body := f.post(t, "/local/login",
			`{"username":"`+identifier+`","password":"hunter2hunter2"}`)
		assert.Equal(t, http.StatusOK, status, "login as %s: %v", identifier, body)
	}
}

func TestLoginRequiresVerifiedWhenConfigured(t *testing.T) {
	f := setup(t, local.Options{RequireVerified: true})
	f.register(t, "a@example.com", "hunter2hunter2")

	status, _ := f.post(t, "/local/login",
		`{"username":"a@example.com","password":"hunter2hunter2"}`)
	require.Equal(t, http.StatusBadRequest, status)

	status, _ = f.post(t, "/local/verify", `{"token":"`+f.verificationToken+`"}`)
	require.Equal(t, http.StatusOK, status)

	status, _ = f.post(t, "/local/login",
		`{"username":"a@example.com","password":"hunter2hunter2"}`)
	assert.Equal(t, http.StatusOK, status)
}

func TestLoginRateLimited(t *testing.T) {
	f := setup(t, local.Options{LoginRate: 0.001, LoginBurst: 2})
	f.register(t, "a@example.com", "hunter2hunter2")

	for i := 0; i < 2; i++ {
		status, _ := f.post(t, "/local/login",
			`{"username":"a@example.com","password":"wrong-password"}`)
		require.Equal(t, http.StatusBadRequest, status)
	}

	// Burst exhausted: even the right password is throttled now.
	status, body := f.post(t, "/local/login",
		`{"username":"a@example.com","password":"hunter2hunter2"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body["message"], "Too many")
}

func TestVerifyRejectsBogusToken(t *testing.T) {
	f := setup(t, local.Options{})
	f.register(t, "a@example.com", "hunter2hunter2")

	status, body := f.post(t, "/local/verify", `{"token":"bogus"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "error", body["status"])
}

func TestForgotPasswordFlow(t *testing.T) {
	f := setup(t, local.Options{})
	f.register(t, "a@example.com", "hunter2hunter2")

	status, body := f.post(t, "/local/forgot-password", `{"username":"a@example.com"}`)
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, f.resetToken)

	// Unknown accounts get the same response, leaking nothing.
	status, body2 := f.post(t, "/local/forgot-password", `{"username":"ghost@example.com"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, body["message"], body2["message"])

	status, _ = f.post(t, "/local/reset-password",
		`{"token":"`+f.resetToken+`","newPassword":"newhunter2hunter2"}`)
	require.Equal(t, http.StatusOK, status)

	// Old password out, new password in, token single use.
	status, _ = f.post(t, "/local/login",
		`{"username":"a@example.com","password":"hunter2hunter2"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = f.post(t, "/local/login",
		`{"username":"a@example.com","password":"newhunter2hunter2"}`)
	assert.Equal(t, http.StatusOK, status)
	status, _ = f.post(t, "/local/reset-password",
		`{"token":"`+f.resetToken+`","newPassword":"another2another2"}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestChangePassword(t *testing.T) {
	f := setup(t, local.Options{})
	f.register(t, "a@example.com", "hunter2hunter2")

	// Not logged in.
	status, _ := f.post(t, "/local/change-password",
		`{"password":"hunter2hunter2","newPassword":"newhunter2hunter2"}`)
	require.Equal(t, http.StatusBadRequest, status)

	// change-password needs the session cookie from login.
	jar := newJar(t)
	f.client = &http.Client{Jar: jar}
	status, _ = f.post(t, "/local/login",
		`{"username":"a@example.com","password":"hunter2hunter2"}`)
	require.Equal(t, http.StatusOK, status)

	status, _ = f.post(t, "/local/change-password",
		`{"password":"wrong-password","newPassword":"newhunter2hunter2"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = f.post(t, "/local/change-password",
		`{"password":"hunter2hunter2","newPassword":"newhunter2hunter2"}`)
	require.Equal(t, http.StatusOK, status)

	status, _ = f.post(t, "/local/login",
		`{"username":"a@example.com","password":"newhunter2hunter2"}`)
	assert.Equal(t, http.StatusOK, status)
}

func TestSetEmailResetsVerification(t *testing.T) {
	f := setup(t, local.Options{})
	f.register(t, "a@example.com", "hunter2hunter2")
	status, _ := f.post(t, "/local/verify", `{"token":"`+f.verificationToken+`"}`)
	require.Equal(t, http.StatusOK, status)

	f.client = &http.Client{Jar: newJar(t)}
	status, _ = f.post(t, "/local/login",
		`{"username":"a@example.com","password":"hunter2hunter2"}`)
	require.Equal(t, http.StatusOK, status)

	status, _ = f.post(t, "/local/set-email", `{"email":"new@example.com"}`)
	require.Equal(t, http.StatusOK, status)

	u, err := f.backend.GetUser(context.Background(), map[ooth.FieldKey]any{
		{Strategy: local.Name, Field: "email"}: "new@example.com",
	})
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, false, u.Strategy(local.Name)["verified"])
	assert.NotEmpty(t, f.verificationToken)
}
