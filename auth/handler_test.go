package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pel/esocialize-portal/config"
	"github.com/pel/esocialize-portal/middleware"
	"github.com/pel/esocialize-portal/models"
	"github.com/pel/esocialize-portal/services"
)

// MockCodeFlow mocks the provider side of the code flow
type MockCodeFlow struct {
	mock.Mock
}

func (m *MockCodeFlow) AuthCodeURL(state string) string {
	return "https://accounts.example.com/authorize?state=" + url.QueryEscape(state)
}

func (m *MockCodeFlow) ExchangeCode(ctx context.Context, code string) (string, error) {
	args := m.Called(ctx, code)
	return args.String(0), args.Error(1)
}

// MockVerifier mocks ID token verification
type MockVerifier struct {
	mock.Mock
}

func (m *MockVerifier) Verify(ctx context.Context, token string) (models.Identity, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(models.Identity), args.Error(1)
}

// MockEnroller mocks first sign-in enrollment
type MockEnroller struct {
	mock.Mock
}

func (m *MockEnroller) Resolve(ctx context.Context, id models.Identity) (*models.Principal, bool) {
	args := m.Called(ctx, id)
	return args.Get(0).(*models.Principal), args.Bool(1)
}

var testCfg = config.IdentityConfig{
	IssuerURL:    "https://accounts.example.com",
	ClientID:     "portal",
	RedirectURI:  "http://localhost:8080/auth/callback",
	FrontEndURL:  "http://localhost:5173/",
	CookieSecure: true,
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func callbackRequest(query string, state string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/auth/callback?"+query, nil)
	if state != "" {
		req.AddCookie(&http.Cookie{Name: StateCookieName, Value: state})
	}
	return req
}

func TestHandleLogin(t *testing.T) {
	t.Run("redirects to provider with state cookie", func(t *testing.T) {
		h := NewHandler(testCfg, new(MockCodeFlow), new(MockVerifier), new(MockEnroller), zap.NewNop())
		rec := httptest.NewRecorder()
		h.HandleLogin(rec, httptest.NewRequest(http.MethodGet, "/auth/login", nil))

		assert.Equal(t, http.StatusFound, rec.Code)
		state := findCookie(rec, StateCookieName)
		require.NotNil(t, state)
		assert.NotEmpty(t, state.Value)
		assert.True(t, state.HttpOnly)
		assert.True(t, state.Secure)
		assert.Equal(t, http.SameSiteLaxMode, state.SameSite)

		loc, err := url.Parse(rec.Header().Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, "accounts.example.com", loc.Host)
		assert.Equal(t, state.Value, loc.Query().Get("state"))
	})

	t.Run("not configured", func(t *testing.T) {
		h := NewHandler(config.IdentityConfig{}, nil, new(MockVerifier), new(MockEnroller), zap.NewNop())
		rec := httptest.NewRecorder()
		h.HandleLogin(rec, httptest.NewRequest(http.MethodGet, "/auth/login", nil))
		assert.Equal(t, http.StatusNotImplemented, rec.Code)
	})

	t.Run("state differs between logins", func(t *testing.T) {
		h := NewHandler(testCfg, new(MockCodeFlow), new(MockVerifier), new(MockEnroller), zap.NewNop())
		first, second := httptest.NewRecorder(), httptest.NewRecorder()
		h.HandleLogin(first, httptest.NewRequest(http.MethodGet, "/auth/login", nil))
		h.HandleLogin(second, httptest.NewRequest(http.MethodGet, "/auth/login", nil))
		assert.NotEqual(t, findCookie(first, StateCookieName).Value, findCookie(second, StateCookieName).Value)
	})
}

func TestHandleCallback(t *testing.T) {
	ana := models.Identity{ID: "google-1", DisplayName: "Ana"}

	t.Run("success sets session and enrolls principal", func(t *testing.T) {
		flow := new(MockCodeFlow)
		verifier := new(MockVerifier)
		enroller := new(MockEnroller)
		h := NewHandler(testCfg, flow, verifier, enroller, zap.NewNop())

		flow.On("ExchangeCode", mock.Anything, "code-1").Return("id-token", nil)
		verifier.On("Verify", mock.Anything, "id-token").Return(ana, nil)
		enroller.On("Resolve", mock.Anything, ana).Return(models.NewPendingPrincipal(ana), false)

		rec := httptest.NewRecorder()
		h.HandleCallback(rec, callbackRequest("code=code-1&state=s1", "s1"))

		assert.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, testCfg.FrontEndURL, rec.Header().Get("Location"))
		session := findCookie(rec, middleware.SessionCookieName)
		require.NotNil(t, session)
		assert.Equal(t, "id-token", session.Value)
		assert.True(t, session.HttpOnly)

		cleared := findCookie(rec, StateCookieName)
		require.NotNil(t, cleared)
		assert.Equal(t, -1, cleared.MaxAge)

		flow.AssertExpectations(t)
		verifier.AssertExpectations(t)
		enroller.AssertExpectations(t)
	})

	t.Run("missing code", func(t *testing.T) {
		h := NewHandler(testCfg, new(MockCodeFlow), new(MockVerifier), new(MockEnroller), zap.NewNop())
		rec := httptest.NewRecorder()
		h.HandleCallback(rec, callbackRequest("state=s1", "s1"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing state", func(t *testing.T) {
		h := NewHandler(testCfg, new(MockCodeFlow), new(MockVerifier), new(MockEnroller), zap.NewNop())
		rec := httptest.NewRecorder()
		h.HandleCallback(rec, callbackRequest("code=c", "s1"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("state mismatch", func(t *testing.T) {
		flow := new(MockCodeFlow)
		h := NewHandler(testCfg, flow, new(MockVerifier), new(MockEnroller), zap.NewNop())
		rec := httptest.NewRecorder()
		h.HandleCallback(rec, callbackRequest("code=c&state=s1", "other"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		flow.AssertNotCalled(t, "ExchangeCode", mock.Anything, mock.Anything)
	})

	t.Run("state cookie absent", func(t *testing.T) {
		h := NewHandler(testCfg, new(MockCodeFlow), new(MockVerifier), new(MockEnroller), zap.NewNop())
		rec := httptest.NewRecorder()
		h.HandleCallback(rec, callbackRequest("code=c&state=s1", ""))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("provider error", func(t *testing.T) {
		h := NewHandler(testCfg, new(MockCodeFlow), new(MockVerifier), new(MockEnroller), zap.NewNop())
		rec := httptest.NewRecorder()
		h.HandleCallback(rec, callbackRequest("error=access_denied&state=s1", "s1"))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("exchange failure", func(t *testing.T) {
		flow := new(MockCodeFlow)
		h := NewHandler(testCfg, flow, new(MockVerifier), new(MockEnroller), zap.NewNop())
		flow.On("ExchangeCode", mock.Anything, "c").Return("", errors.New("invalid_grant"))

		rec := httptest.NewRecorder()
		h.HandleCallback(rec, callbackRequest("code=c&state=s1", "s1"))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Nil(t, findCookie(rec, middleware.SessionCookieName))
	})

	t.Run("invalid id token", func(t *testing.T) {
		flow := new(MockCodeFlow)
		verifier := new(MockVerifier)
		enroller := new(MockEnroller)
		h := NewHandler(testCfg, flow, verifier, enroller, zap.NewNop())
		flow.On("ExchangeCode", mock.Anything, "c").Return("bad-token", nil)
		verifier.On("Verify", mock.Anything, "bad-token").Return(models.Identity{}, services.ErrInvalidToken)

		rec := httptest.NewRecorder()
		h.HandleCallback(rec, callbackRequest("code=c&state=s1", "s1"))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		enroller.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything)
	})
}

func TestHandleLogout(t *testing.T) {
	h := NewHandler(config.IdentityConfig{}, nil, new(MockVerifier), new(MockEnroller), zap.NewNop())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "id-token"})
	h.HandleLogout(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
	session := findCookie(rec, middleware.SessionCookieName)
	require.NotNil(t, session)
	assert.Empty(t, session.Value)
	assert.Equal(t, -1, session.MaxAge)
}
