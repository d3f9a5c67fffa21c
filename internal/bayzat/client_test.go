package bayzat

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teamtrack/bayzat-sync/internal/models"
)

func testSettings(apiURL string) models.CompanySyncSettings {
	return models.CompanySyncSettings{
		CompanyID:        "company-1",
		APIKey:           "secret-key",
		APIURL:           apiURL,
		Enabled:          true,
		PageSize:         50,
		MaxRetryAttempts: 5,
	}
}

func testPayload() RecordPayload {
	return RecordPayload{
		RecordID:    "rec-1",
		EmployeeRef: "emp-9",
		DeviceID:    "dev-3",
		PunchType:   "in",
		PunchedAt:   time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
	}
}

func newTestClient(retries int) *Client {
	return NewClient(nil, nil, ClientConfig{
		LocalRetries: retries,
		RetryBackoff: time.Millisecond,
	})
}

func TestPushRecordSuccess(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/attendance/records", r.URL.Path)
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	err := newTestClient(0).PushRecord(context.Background(), testSettings(srv.URL), testPayload())
	require.NoError(t, err)
	require.Equal(t, "Bearer secret-key", gotAuth)
}

func TestPushRecordUnauthorizedNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := newTestClient(3).PushRecord(context.Background(), testSettings(srv.URL), testPayload())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, KindUnauthorized, apiErr.Kind)
	require.False(t, apiErr.Retryable())
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestPushRecordRateLimitedSurfacedImmediately(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := newTestClient(3).PushRecord(context.Background(), testSettings(srv.URL), testPayload())
	require.Equal(t, KindRateLimited, KindOf(err))
	require.True(t, IsRetryable(err))
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestPushRecordTransientRetriedLocally(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	err := newTestClient(3).PushRecord(context.Background(), testSettings(srv.URL), testPayload())
	require.NoError(t, err)
	require.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestPushRecordTransientExhaustsLocalRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := newTestClient(2).PushRecord(context.Background(), testSettings(srv.URL), testPayload())
	require.Equal(t, KindTransient, KindOf(err))
	require.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestFetchPageSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "50", r.URL.Query().Get("limit"))
		require.Equal(t, "cursor-1", r.URL.Query().Get("cursor"))
		w.Write([]byte(`{"records":[{"id":"ext-1","employee_ref":"emp-9","device_id":"dev-3","punch_type":"in","punched_at":"2025-06-01T09:00:00Z"}],"next_cursor":"cursor-2","has_more":true}`))
	}))
	defer srv.Close()

	page, err := newTestClient(0).FetchPage(context.Background(), testSettings(srv.URL), "cursor-1")
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	require.Equal(t, "ext-1", page.Records[0].ExternalID)
	require.True(t, page.HasMore)
	require.Equal(t, "cursor-2", page.NextCursor)
}

func TestFetchPageMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>not json</html>`))
	}))
	defer srv.Close()

	_, err := newTestClient(3).FetchPage(context.Background(), testSettings(srv.URL), "")
	require.Equal(t, KindMalformed, KindOf(err))
	require.False(t, IsRetryable(err))
}

func TestClientRejectsInvalidAPIURL(t *testing.T) {
	settings := testSettings("not-a-url")
	err := newTestClient(0).PushRecord(context.Background(), settings, testPayload())
	require.Equal(t, KindMalformed, KindOf(err))
}

func TestKindOfDefaultsToTransient(t *testing.T) {
	require.Equal(t, KindTransient, KindOf(errors.New("connection reset")))
}
