package matrix

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	client, err := NewClient(ClientConfig{HomeserverURL: server.URL, HTTPClient: server.Client()})
	require.NoError(t, err)
	return client
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ClientConfig
		want    string
		wantErr bool
	}{
		{"default api path", ClientConfig{HomeserverURL: "https://matrix.org"}, "https://matrix.org/_matrix/client/r0", false},
		{"trailing slash", ClientConfig{HomeserverURL: "https://matrix.org/"}, "https://matrix.org/_matrix/client/r0", false},
		{"strips api suffix", ClientConfig{HomeserverURL: "https://matrix.org/_matrix/client/v3"}, "https://matrix.org/_matrix/client/r0", false},
		{"custom api path", ClientConfig{HomeserverURL: "http://localhost:8008", APIPath: "_matrix/client/v3/"}, "http://localhost:8008/_matrix/client/v3", false},
		{"empty", ClientConfig{}, "", true},
		{"bad scheme", ClientConfig{HomeserverURL: "ftp://matrix.org"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, client.BaseURL())
		})
	}
}

func TestLogin(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/_matrix/client/r0/login", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))

		var req LoginRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, LoginRequest{Type: "m.login.password", Password: "the_password", User: "cheeky_monkey"}, req)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"user_id":"@cheeky_monkey:matrix.org","access_token":"abc123","home_server":"matrix.org","device_id":"GHTYAJCE"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server)
	resp, err := client.Login(context.Background(), "cheeky_monkey", "the_password")
	require.NoError(t, err)

	assert.Equal(t, "abc123", resp.AccessToken)
	assert.Equal(t, "@cheeky_monkey:matrix.org", resp.UserID)
	assert.Equal(t, "matrix.org", resp.HomeServer)
}

func TestLoginErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
		wantDecode bool
	}{
		{"forbidden", http.StatusForbidden, `{"errcode":"M_FORBIDDEN"}`, http.StatusForbidden, false},
		{"missing token", http.StatusOK, `{"user_id":"@a:b"}`, 0, true},
		{"malformed body", http.StatusOK, `not json`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newTestClient(t, server).Login(context.Background(), "u", "p")
			require.Error(t, err)

			status, ok := StatusCodeOf(err)
			assert.Equal(t, tt.wantStatus != 0, ok)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantDecode, errors.Is(err, ErrDecode))
		})
	}
}

func TestLoginMissingTokenSentinel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":""}`))
	}))
	defer server.Close()

	_, err := newTestClient(t, server).Login(context.Background(), "u", "p")
	assert.ErrorIs(t, err, ErrMissingAccessToken)
}

func TestSyncAuthorizationHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer myAccessToken", r.Header.Get("Authorization"))
		assert.Equal(t, "/_matrix/client/r0/sync", r.URL.Path)
		_, _ = w.Write([]byte(`{"next_batch":""}`))
	}))
	defer server.Close()

	resp, err := newTestClient(t, server).Sync(context.Background(), "myAccessToken", SyncParameters{})
	require.NoError(t, err)
	assert.Equal(t, "", resp.NextBatch)
}

func TestSyncSendsOnlyPresentParameters(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		assert.Equal(t, "60000", query.Get("timeout"))
		assert.Equal(t, "offline", query.Get("set_presence"))
		assert.False(t, query.Has("since"))
		assert.False(t, query.Has("filter"))
		assert.False(t, query.Has("full_state"))
		_, _ = w.Write([]byte(`{"next_batch":"s1"}`))
	}))
	defer server.Close()

	params := SyncParameters{Timeout: mo.Some(60000), SetPresence: mo.Some(SetPresenceOffline)}
	_, err := newTestClient(t, server).Sync(context.Background(), "t", params)
	require.NoError(t, err)
}

func TestSyncHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
		_, _ = w.Write([]byte(strings.Repeat("x", 1024)))
	}))
	defer server.Close()

	_, err := newTestClient(t, server).Sync(context.Background(), "t", SyncParameters{})

	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusGone, statusErr.StatusCode)
	assert.Equal(t, http.MethodGet, statusErr.Method)
	assert.Equal(t, "/sync", statusErr.Path)
	assert.False(t, errors.Is(err, ErrDecode))
	assert.Equal(t, OutcomeHTTPError, ClassifyError(err))
}

func TestSyncDecodeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"rooms":{}}`))
	}))
	defer server.Close()

	_, err := newTestClient(t, server).Sync(context.Background(), "t", SyncParameters{})

	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, "next_batch", decodeErr.Field)
	assert.Equal(t, OutcomeDecodeError, ClassifyError(err))
}

func TestSyncTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client := newTestClient(t, server)
	server.Close()

	_, err := client.Sync(context.Background(), "t", SyncParameters{})
	require.Error(t, err)
	_, isStatus := StatusCodeOf(err)
	assert.False(t, isStatus)
	assert.Equal(t, OutcomeTransportError, ClassifyError(err))
}

func TestSyncRejectsNegativeTimeout(t *testing.T) {
	client, err := NewClient(ClientConfig{HomeserverURL: "http://127.0.0.1:1"})
	require.NoError(t, err)

	_, err = client.Sync(context.Background(), "t", SyncParameters{Timeout: mo.Some(-5)})
	assert.Error(t, err)
}

func TestRoomTimelineFilter(t *testing.T) {
	filter, err := RoomTimelineFilter([]string{"!a:b"}, 0)
	require.NoError(t, err)
	assert.JSONEq(t, `{"room":{"rooms":["!a:b"],"timeline":{"limit":50}}}`, filter)

	filter, err = RoomTimelineFilter(nil, 5)
	require.NoError(t, err)
	assert.JSONEq(t, `{"room":{"timeline":{"limit":5}}}`, filter)
}

func TestLocalpart(t *testing.T) {
	assert.Equal(t, "alice", Localpart("@alice:example.org"))
	assert.Equal(t, "alice", Localpart("alice"))
	assert.Equal(t, "@broken", Localpart("@broken"))
}
