package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coreos/go-oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"flowline/backend/internal/config"
	"flowline/backend/pkg/models"
)

// MockKeySet satisfies oidc.KeySet to bypass signature verification.
type MockKeySet struct{}

func (m *MockKeySet) VerifySignature(ctx context.Context, jwtToken string) ([]byte, error) {
	parts := strings.Split(jwtToken, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed jwt")
	}
	return base64.RawURLEncoding.DecodeString(parts[1])
}

// MockUserStore satisfies UserStore.
type MockUserStore struct {
	mock.Mock
}

func (m *MockUserStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserStore) CreateUser(ctx context.Context, user *models.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func fakeBearerToken(t *testing.T, issuer, clientID, email, name string) string {
	t.Helper()
	claims := map[string]interface{}{
		"iss":   issuer,
		"aud":   clientID,
		"sub":   "test-user",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"iat":   time.Now().Add(-1 * time.Minute).Unix(),
		"email": email,
		"name":  name,
	}
	headerBytes, _ := json.Marshal(map[string]interface{}{
		"alg": "RS256",
		"typ": "JWT",
		"kid": "test-key",
	})
	payload, _ := json.Marshal(claims)
	return base64.RawURLEncoding.EncodeToString(headerBytes) + "." +
		base64.RawURLEncoding.EncodeToString(payload) + "." +
		base64.RawURLEncoding.EncodeToString([]byte("fakesignature"))
}

func newBearerVerifier(issuer, clientID string) *oidc.IDTokenVerifier {
	return oidc.NewVerifier(issuer, &MockKeySet{}, &oidc.Config{
		ClientID:          clientID,
		SkipClientIDCheck: true,
	})
}

func TestRequireAuth_BearerToken_ResolvesOwner(t *testing.T) {
	users := new(MockUserStore)
	users.On("GetUserByEmail", mock.Anything, "ada@acme.com").Return(&models.User{
		ID:    "user-123",
		Email: "ada@acme.com",
	}, nil)

	issuer := "https://test-issuer.com"
	clientID := "test-client"
	a := &Auth{apiVerifier: newBearerVerifier(issuer, clientID), users: users}

	req := httptest.NewRequest("GET", "/api/v1/workflows", nil)
	req.Header.Set("Authorization", "Bearer "+fakeBearerToken(t, issuer, clientID, "ada@acme.com", "Ada"))
	rec := httptest.NewRecorder()

	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := OwnerID(r.Context())
		assert.True(t, ok, "owner id should be in context")
		assert.Equal(t, "user-123", ownerID)
		w.WriteHeader(http.StatusOK)
	})

	a.RequireAuth(nextHandler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Logf("Response Body: %s", rec.Body.String())
	}
	assert.Equal(t, http.StatusOK, rec.Code)
	users.AssertExpectations(t)
}

func TestRequireAuth_BypassMode(t *testing.T) {
	users := new(MockUserStore)
	users.On("GetUserByEmail", mock.Anything, "dev@localhost").Return(nil, fmt.Errorf("not found"))
	users.On("CreateUser", mock.Anything, mock.MatchedBy(func(user *models.User) bool {
		return user.Email == "dev@localhost"
	})).Run(func(args mock.Arguments) {
		args.Get(1).(*models.User).ID = "dev-user-id"
	}).Return(nil)

	cfg := &config.Config{
		Environment:   "dev",
		DevModeBypass: true,
	}
	a, err := New(context.Background(), cfg, users, nil)
	assert.NoError(t, err)

	req := httptest.NewRequest("GET", "/api/v1/workflows", nil)
	rec := httptest.NewRecorder()

	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := OwnerID(r.Context())
		assert.True(t, ok)
		assert.Equal(t, "dev-user-id", ownerID)
		w.WriteHeader(http.StatusOK)
	})

	a.RequireAuth(nextHandler).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	users.AssertExpectations(t)
}

func TestRequireAuth_AutoProvisionUser(t *testing.T) {
	users := new(MockUserStore)
	users.On("GetUserByEmail", mock.Anything, "founder@startup.io").Return(nil, fmt.Errorf("not found"))
	users.On("CreateUser", mock.Anything, mock.MatchedBy(func(user *models.User) bool {
		return user.Email == "founder@startup.io" && user.FullName == "Founder"
	})).Run(func(args mock.Arguments) {
		args.Get(1).(*models.User).ID = "new-user-id"
	}).Return(nil)

	issuer := "https://test-issuer.com"
	clientID := "test-client"
	a := &Auth{apiVerifier: newBearerVerifier(issuer, clientID), users: users}

	req := httptest.NewRequest("GET", "/api/v1/workflows", nil)
	req.Header.Set("Authorization", "Bearer "+fakeBearerToken(t, issuer, clientID, "founder@startup.io", "Founder"))
	rec := httptest.NewRecorder()

	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := OwnerID(r.Context())
		assert.True(t, ok)
		assert.Equal(t, "new-user-id", ownerID)
		w.WriteHeader(http.StatusOK)
	})

	a.RequireAuth(nextHandler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Logf("Response Body: %s", rec.Body.String())
	}
	assert.Equal(t, http.StatusOK, rec.Code)
	users.AssertExpectations(t)
}

func TestRequireAuth_MissingCredentialsRedirectsToLogin(t *testing.T) {
	issuer := "https://test-issuer.com"
	a := &Auth{
		verifier:    newBearerVerifier(issuer, "test-client"),
		apiVerifier: newBearerVerifier(issuer, "test-client"),
		users:       new(MockUserStore),
	}

	req := httptest.NewRequest("GET", "/api/v1/workflows", nil)
	rec := httptest.NewRecorder()

	a.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without credentials")
	})).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
}
