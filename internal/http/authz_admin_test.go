package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

// /admin pages require a principal in the admins table.
func TestAdminGuardRequiresAdmin(t *testing.T) {
	a := newTestApp(t)

	// Anonymous -> redirect to login
	resp, err := a.app.Test(httptest.NewRequest("GET", "/admin/queue", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected redirect, got %d", resp.StatusCode)
	}

	// Logged-in non-admin -> 403
	reqUser := httptest.NewRequest("GET", "/admin/queue", nil)
	reqUser.AddCookie(&http.Cookie{Name: "sid", Value: a.session(t, "u-alice")})
	respUser, err := a.app.Test(reqUser)
	if err != nil {
		t.Fatal(err)
	}
	if respUser.StatusCode != http.StatusForbidden {
		t.Fatalf("expected forbidden for non-admin, got %d", respUser.StatusCode)
	}

	// Admin -> 200
	reqAdmin := httptest.NewRequest("GET", "/admin/queue", nil)
	reqAdmin.AddCookie(&http.Cookie{Name: "sid", Value: a.session(t, "u-admin")})
	respAdmin, err := a.app.Test(reqAdmin)
	if err != nil {
		t.Fatal(err)
	}
	if respAdmin.StatusCode != http.StatusOK {
		t.Fatalf("admin expected 200, got %d", respAdmin.StatusCode)
	}
}

func TestAdminAPIGuard(t *testing.T) {
	a := newTestApp(t)
	user := a.session(t, "u-alice")
	admin := a.session(t, "u-admin")

	var e apiError
	assert.Equal(t, http.StatusUnauthorized, a.call(t, "GET", "/api/v1/admin/flags", "", nil, &e))
	assert.Equal(t, "unauthenticated", e.Error)
	assert.Equal(t, http.StatusForbidden, a.call(t, "GET", "/api/v1/admin/flags", user, nil, &e))
	assert.Equal(t, "unauthorized", e.Error)
	assert.Equal(t, http.StatusOK, a.call(t, "GET", "/api/v1/admin/flags", admin, nil, nil))

	// the guard covers every write too
	code := a.call(t, "POST", "/api/v1/admin/users/u-bob/ban", user, map[string]any{"reason": "spite", "days": 1}, nil)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestGrantAndRevokeAdmin(t *testing.T) {
	a := newTestApp(t)
	admin := a.session(t, "u-admin")
	bob := a.session(t, "u-bob")

	assert.Equal(t, http.StatusForbidden, a.call(t, "GET", "/api/v1/admin/appeals", bob, nil, nil))

	assert.Equal(t, http.StatusCreated, a.call(t, "POST", "/api/v1/admin/admins", admin, map[string]any{"user_id": "u-bob"}, nil))
	assert.Equal(t, http.StatusOK, a.call(t, "GET", "/api/v1/admin/appeals", bob, nil, nil))

	var e apiError
	assert.Equal(t, http.StatusNotFound, a.call(t, "POST", "/api/v1/admin/admins", admin, map[string]any{"user_id": "u-nobody"}, &e))
	assert.Equal(t, http.StatusBadRequest, a.call(t, "DELETE", "/api/v1/admin/admins/u-admin", admin, nil, nil), "no self-revoke")

	assert.Equal(t, http.StatusOK, a.call(t, "DELETE", "/api/v1/admin/admins/u-bob", admin, nil, nil))
	assert.Equal(t, http.StatusForbidden, a.call(t, "GET", "/api/v1/admin/appeals", bob, nil, nil))
}
