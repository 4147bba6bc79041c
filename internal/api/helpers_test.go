package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/sethshoultes/flock-control/internal/auth"
	"github.com/sethshoultes/flock-control/internal/db"
	"github.com/sethshoultes/flock-control/internal/testutil"
	"github.com/sethshoultes/flock-control/internal/vision"
)

type testServer struct {
	handler  http.Handler
	db       *db.DB
	tokens   *auth.Tokens
	notifier *testutil.MockNotifier
	result   *vision.Result
	err      error
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		db:       testutil.SetupTestDB(t),
		tokens:   auth.NewTokens("test-secret", time.Hour),
		notifier: &testutil.MockNotifier{},
		result:   &vision.Result{Count: 5, Labels: []string{"hens"}},
	}
	analyzer := vision.AnalyzerFunc(func(context.Context, vision.Image) (*vision.Result, error) {
		return ts.result, ts.err
	})
	ts.handler = NewRouter(Deps{
		DB:            ts.db,
		Tokens:        ts.tokens,
		Analyzer:      analyzer,
		Notifier:      ts.notifier,
		MaxImageBytes: 1 << 20,
	})
	return ts
}

// createUser inserts a user and returns its id and a bearer token.
func (ts *testServer) createUser(t *testing.T, email string) (int64, string) {
	t.Helper()
	user, err := ts.db.CreateUser(context.Background(), email, "hash")
	if err != nil {
		t.Fatalf("Failed to seed user: %v", err)
	}
	token, err := ts.tokens.Generate(user.ID)
	if err != nil {
		t.Fatal(err)
	}
	return user.ID, token
}

func (ts *testServer) do(t *testing.T, method, path, token string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rr.Body.String(), err)
	}
}

func pngDataURL(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}
