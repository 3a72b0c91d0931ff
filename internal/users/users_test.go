package users_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tartampluch/greeter-service/internal/config"
	"github.com/tartampluch/greeter-service/internal/users"
)

func TestFake_FindBirthdaysToday(t *testing.T) {
	f := users.NewFake()
	f.Now = func() time.Time { return time.Date(2026, time.May, 15, 4, 5, 0, 0, time.UTC) } // 00:05 EDT

	birthday := time.Date(1990, time.May, 15, 0, 0, 0, 0, time.UTC)
	f.Put(users.User{ID: "alice", Timezone: "America/New_York", BirthdayDate: &birthday})
	f.Put(users.User{ID: "bob", Timezone: "America/New_York"})

	got, err := f.FindBirthdaysToday(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "alice", got[0].ID)
}

func TestFake_DeletedUsersExcluded(t *testing.T) {
	f := users.NewFake()
	deletedAt := time.Now()
	f.Put(users.User{ID: "alice", DeletedAt: &deletedAt})

	got, err := f.FindByID(context.Background(), "alice")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFake_FindAll_Filters(t *testing.T) {
	f := users.NewFake()
	birthday := time.Date(1990, time.May, 15, 0, 0, 0, 0, time.UTC)
	f.Put(users.User{ID: "alice", Timezone: "UTC", BirthdayDate: &birthday})
	f.Put(users.User{ID: "bob", Timezone: "UTC"})

	got, err := f.FindAll(context.Background(), users.Filter{RequireBirthday: true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "alice", got[0].ID)
}

func TestHTTPSource_FindByID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/alice", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":           "alice",
			"firstName":    "Alice",
			"lastName":     "Johnson",
			"timezone":     "America/New_York",
			"birthdayDate": "1990-05-15",
		})
	}))
	defer srv.Close()

	src, err := users.NewHTTPSource(config.UsersConfig{URL: srv.URL, Timeout: 2 * time.Second})
	require.NoError(t, err)

	got, err := src.FindByID(context.Background(), "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Alice", got.FirstName)
	require.NotNil(t, got.BirthdayDate)
	assert.Equal(t, time.May, got.BirthdayDate.Month())
}

func TestHTTPSource_NotFoundReturnsNilNoError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	src, err := users.NewHTTPSource(config.UsersConfig{URL: srv.URL, Timeout: 2 * time.Second})
	require.NoError(t, err)

	got, err := src.FindByID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestHTTPSource_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	src, err := users.NewHTTPSource(config.UsersConfig{URL: srv.URL, Timeout: 2 * time.Second})
	require.NoError(t, err)

	_, err = src.FindByID(context.Background(), "alice")
	require.Error(t, err)
}

func TestNewHTTPSource_RejectsBadScheme(t *testing.T) {
	_, err := users.NewHTTPSource(config.UsersConfig{URL: "ftp://example.com"})
	require.Error(t, err)
}
