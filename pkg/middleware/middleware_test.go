package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dentage-research/platform/pkg/common/logger"
	"github.com/dentage-research/platform/pkg/common/models"
	"github.com/dentage-research/platform/pkg/identity"
)

func init() {
	logger.Init()
}

func protected(t *testing.T, tokens *identity.MemoryTokenStore, op string) http.Handler {
	t.Helper()
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFrom(r.Context())
		require.True(t, ok)
		require.NotEmpty(t, user.Username)
		w.WriteHeader(http.StatusOK)
	})
	return RequireRole(tokens, op)(next)
}

func TestRequireRoleRejectsMissingToken(t *testing.T) {
	tokens := identity.NewMemoryTokenStore(time.Hour)
	handler := protected(t, tokens, identity.OpViewBlinded)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/blinded", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireRoleRejectsInsufficientRole(t *testing.T) {
	tokens := identity.NewMemoryTokenStore(time.Hour)
	token, err := tokens.Issue(context.Background(), models.User{Username: "pi", Role: models.RolePI})
	require.NoError(t, err)

	handler := protected(t, tokens, identity.OpManagePatients)
	req := httptest.NewRequest(http.MethodGet, "/patients", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireRoleAdmitsPermittedUser(t *testing.T) {
	tokens := identity.NewMemoryTokenStore(time.Hour)
	token, err := tokens.Issue(context.Background(), models.User{Username: "pi", Role: models.RolePI})
	require.NoError(t, err)

	handler := protected(t, tokens, identity.OpSubmitEstimates)
	req := httptest.NewRequest(http.MethodPost, "/estimates", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
