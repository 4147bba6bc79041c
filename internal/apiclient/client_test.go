package apiclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sethshoultes/flock-control/internal/model"
)

func TestClassify(t *testing.T) {
	cases := map[int]Kind{
		http.StatusBadRequest:            KindInvalid,
		http.StatusNotFound:              KindInvalid,
		http.StatusRequestEntityTooLarge: KindInvalid,
		http.StatusUnauthorized:          KindUnauthorized,
		http.StatusForbidden:             KindUnauthorized,
		http.StatusRequestTimeout:        KindTransient,
		http.StatusTooManyRequests:       KindTransient,
		http.StatusInternalServerError:   KindTransient,
		http.StatusBadGateway:            KindTransient,
		http.StatusServiceUnavailable:    KindTransient,
	}
	for status, want := range cases {
		assert.Equal(t, want, Classify(status), "status %d", status)
	}
}

func TestAnalyzeSendsTokenAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/analyze", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var req model.AnalyzeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "data:image/png;base64,AA==", req.Image)
		io.WriteString(w, `{"count":{"id":42,"userId":3,"count":7,"labels":["hens"]},"newAchievements":[{"id":1,"name":"First Count"}]}`)
	}))
	defer srv.Close()

	c := New(srv.URL, WithTokenSource(func() string { return "tok" }))
	resp, err := c.Analyze(context.Background(), "data:image/png;base64,AA==")
	require.NoError(t, err)
	assert.Equal(t, model.RemoteID(42), resp.Count.ID)
	assert.Equal(t, 7, resp.Count.Count)
	require.Len(t, resp.NewAchievements, 1)
	assert.Equal(t, "First Count", resp.NewAchievements[0].Name)
}

func fixedServer(t *testing.T, status int, body string) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return New(srv.URL)
}

func TestErrorsAreClassified(t *testing.T) {
	ctx := context.Background()

	_, err := fixedServer(t, http.StatusBadRequest, `{"error":"Invalid image"}`).Analyze(ctx, "x")
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "Invalid image", apiErr.Message)
	assert.True(t, IsInvalid(err))
	assert.False(t, IsTransient(err))

	_, err = fixedServer(t, http.StatusUnauthorized, `{"error":"Invalid token"}`).ListCounts(ctx)
	assert.True(t, IsUnauthorized(err))

	_, err = fixedServer(t, http.StatusOK, `{"count": "not an object"}`).Analyze(ctx, "x")
	assert.True(t, IsTransient(err), "malformed responses are retryable: %v", err)

	_, err = fixedServer(t, http.StatusOK, `{}`).Analyze(ctx, "x")
	assert.True(t, IsTransient(err), "a response without a count is malformed")
}

func TestNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url).Health(context.Background())
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Zero(t, apiErr.Status)
}

func TestDeleteCountsAcceptsNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		var req model.DeleteCountsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []int64{1, 2}, req.CountIDs)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	assert.NoError(t, New(srv.URL).DeleteCounts(context.Background(), []int64{1, 2}))
}
