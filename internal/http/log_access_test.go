package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Access control denials are logged
func TestAccessDeniedLogs(t *testing.T) {
	a := newTestApp(t)
	alice := a.session(t, "u-alice")
	bob := a.session(t, "u-bob")
	l := a.activeListing(t, alice, "Road bike")

	// bob may not archive alice's listing
	entries := captureLogs(t, func() {
		a.call(t, "POST", "/api/v1/listings/"+l.ID+"/archive", bob, nil, nil)
	})
	e, ok := findLog(entries, "listing.archive.denied")
	require.True(t, ok, "expected listing.archive.denied log")
	assert.Equal(t, "u-bob", e.UserID)
	assert.Equal(t, http.StatusForbidden, e.Status)

	// Non-admin hitting /admin should log access.denied.admin
	entries = captureLogs(t, func() {
		req := httptest.NewRequest("GET", "/admin/queue", nil)
		req.AddCookie(&http.Cookie{Name: "sid", Value: bob})
		_, _ = a.app.Test(req)
	})
	_, ok = findLog(entries, "access.denied.admin")
	assert.True(t, ok, "expected access.denied.admin log")

	entries = captureLogs(t, func() {
		a.call(t, "POST", "/api/v1/listings", "", newListing("Lamp"), nil)
	})
	_, ok = findLog(entries, "access.denied.anonymous")
	assert.True(t, ok, "expected access.denied.anonymous log")
}

// Every failed core operation leaves a log line with its kind.
func TestFailuresAreLogged(t *testing.T) {
	a := newTestApp(t)
	alice := a.session(t, "u-alice")
	l := a.activeListing(t, alice, "Desk")
	require.Equal(t, http.StatusOK, a.call(t, "POST", "/api/v1/listings/"+l.ID+"/bump", alice, nil, nil))

	entries := captureLogs(t, func() {
		a.call(t, "POST", "/api/v1/listings/"+l.ID+"/bump", alice, nil, nil)
	})
	e, ok := findLog(entries, "listing.bump.fail")
	require.True(t, ok, "expected listing.bump.fail log")
	assert.Equal(t, "conflict", e.Fields["kind"])
	assert.Equal(t, "cooldown", e.Fields["reason"])

	entries = captureLogs(t, func() {
		a.call(t, "POST", "/api/v1/listings/missing/publish", alice, nil, nil)
	})
	e, ok = findLog(entries, "listing.publish.fail")
	require.True(t, ok)
	assert.Equal(t, "not_found", e.Fields["kind"])

	entries = captureLogs(t, func() {
		a.call(t, "POST", "/api/v1/listings/"+l.ID+"/sold", alice, nil, nil)
	})
	_, ok = findLog(entries, "listing.sold")
	assert.True(t, ok, "successful transitions are audited")
}
