package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/sethshoultes/flock-control/internal/model"
	"github.com/sethshoultes/flock-control/internal/vision"
)

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodGet, "/api/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}
	var resp model.HealthResponse
	decode(t, rr, &resp)
	if resp.Status != model.HealthHealthy || resp.Database != model.DatabaseConnected {
		t.Errorf("unexpected health response: %+v", resp)
	}
}

func TestHealthDatabaseDown(t *testing.T) {
	ts := newTestServer(t)
	ts.db.Close()

	rr := ts.do(t, http.MethodGet, "/api/health", "", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %v", rr.Code)
	}
	var resp model.HealthResponse
	decode(t, rr, &resp)
	if resp.Database != model.DatabaseDisconnected || resp.Error == "" {
		t.Errorf("expected disconnected with an error, got %+v", resp)
	}
}

func TestAnalyzeGuestIsNotPersisted(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodPost, "/api/analyze", "", model.AnalyzeRequest{Image: pngDataURL(t)})
	if rr.Code != http.StatusOK {
		t.Fatalf("analyze failed: %v body: %s", rr.Code, rr.Body.String())
	}

	var resp model.AnalyzeResponse
	decode(t, rr, &resp)
	if !resp.Count.ID.IsLocal() || !strings.HasPrefix(resp.Count.ID.String(), "guest-") {
		t.Errorf("expected a guest- local id, got %v", resp.Count.ID)
	}
	if resp.Count.UserID != model.GuestUserID {
		t.Errorf("expected guest user id, got %d", resp.Count.UserID)
	}
	if !resp.Count.HasLabel(model.LabelGuestMode) {
		t.Errorf("expected guest-mode label, got %v", resp.Count.Labels)
	}
	if resp.Count.Count != 5 {
		t.Errorf("expected count 5, got %d", resp.Count.Count)
	}

	var stored int
	if err := ts.db.Get(&stored, "SELECT COUNT(1) FROM counts"); err != nil {
		t.Fatal(err)
	}
	if stored != 0 {
		t.Errorf("guest analysis was persisted: %d rows", stored)
	}
}

func TestAnalyzeAuthenticatedGrantsAchievements(t *testing.T) {
	ts := newTestServer(t)
	userID, token := ts.createUser(t, "keeper@example.com")
	breed := "Orpington"
	ts.result = &vision.Result{Count: 12, Breed: &breed, Labels: []string{"hens"}}

	rr := ts.do(t, http.MethodPost, "/api/analyze", token, model.AnalyzeRequest{Image: pngDataURL(t)})
	if rr.Code != http.StatusOK {
		t.Fatalf("analyze failed: %v body: %s", rr.Code, rr.Body.String())
	}

	var resp model.AnalyzeResponse
	decode(t, rr, &resp)
	if !resp.Count.ID.IsRemote() || resp.Count.UserID != userID {
		t.Errorf("expected a stored count for user %d, got %+v", userID, resp.Count)
	}
	names := map[string]bool{}
	for _, a := range resp.NewAchievements {
		names[a.Name] = true
	}
	if !names["First Count"] || !names["Big Flock"] {
		t.Errorf("expected First Count and Big Flock, got %v", names)
	}

	sent := ts.notifier.Notifications()
	if len(sent) != 1 || sent[0].Email != "keeper@example.com" {
		t.Errorf("expected one notification to keeper@example.com, got %+v", sent)
	}

	// Same result again: nothing new to grant.
	rr = ts.do(t, http.MethodPost, "/api/analyze", token, model.AnalyzeRequest{Image: pngDataURL(t)})
	var again model.AnalyzeResponse
	decode(t, rr, &again)
	for _, a := range again.NewAchievements {
		if names[a.Name] {
			t.Errorf("achievement %q granted twice", a.Name)
		}
	}
}

func TestAnalyzeUnparseableRecordsFailure(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.createUser(t, "a@example.com")
	ts.result, ts.err = nil, errors.Join(vision.ErrUnparseable, errors.New("no json"))

	rr := ts.do(t, http.MethodPost, "/api/analyze", token, model.AnalyzeRequest{Image: pngDataURL(t)})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %v body: %s", rr.Code, rr.Body.String())
	}
	var resp model.AnalyzeResponse
	decode(t, rr, &resp)
	if resp.Count.Count != 0 || !resp.Count.HasLabel(model.LabelAIFailed) {
		t.Errorf("expected a zero count labelled ai-failed, got %+v", resp.Count)
	}
}

func TestAnalyzeErrors(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodPost, "/api/analyze", "", model.AnalyzeRequest{Image: "data:text/plain;base64,aGVsbG8="})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("invalid image: expected 400, got %v", rr.Code)
	}

	rr = ts.do(t, http.MethodPost, "/api/analyze", "", map[string]string{})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing image: expected 400, got %v", rr.Code)
	}

	ts.result, ts.err = nil, vision.ErrProvider
	rr = ts.do(t, http.MethodPost, "/api/analyze", "", model.AnalyzeRequest{Image: pngDataURL(t)})
	if rr.Code != http.StatusBadGateway {
		t.Errorf("provider failure: expected 502, got %v", rr.Code)
	}

	rr = ts.do(t, http.MethodPost, "/api/analyze", "not-a-token", model.AnalyzeRequest{Image: pngDataURL(t)})
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("bad token: expected 401, got %v", rr.Code)
	}
}

func TestCountsRequireAuth(t *testing.T) {
	ts := newTestServer(t)
	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodDelete} {
		if rr := ts.do(t, method, "/api/counts", "", nil); rr.Code != http.StatusUnauthorized {
			t.Errorf("%s /api/counts without token: expected 401, got %v", method, rr.Code)
		}
	}

	// Token for a user that does not exist.
	token, _ := ts.tokens.Generate(404)
	if rr := ts.do(t, http.MethodGet, "/api/counts", token, nil); rr.Code != http.StatusUnauthorized {
		t.Errorf("unknown user: expected 401, got %v", rr.Code)
	}
}

func TestListCountsOrdered(t *testing.T) {
	ts := newTestServer(t)
	userID, token := ts.createUser(t, "a@example.com")
	ctx := context.Background()

	later := time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)
	earlier := later.Add(-time.Hour)
	ts.db.InsertCount(ctx, model.Count{UserID: userID, Count: 2, Timestamp: &later})
	ts.db.InsertCount(ctx, model.Count{UserID: userID, Count: 1, Timestamp: &earlier})

	rr := ts.do(t, http.MethodGet, "/api/counts", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list failed: %v", rr.Code)
	}
	var resp model.CountsResponse
	decode(t, rr, &resp)
	if len(resp.Counts) != 2 || resp.Counts[0].Count != 1 || resp.Counts[1].Count != 2 {
		t.Errorf("expected counts ascending by timestamp, got %+v", resp.Counts)
	}
}

func TestDeleteCountsIgnoresOtherUsers(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	alice, aliceToken := ts.createUser(t, "alice@example.com")
	bob, bobToken := ts.createUser(t, "bob@example.com")

	own, _ := ts.db.InsertCount(ctx, model.Count{UserID: alice, Count: 3})
	theirs, _ := ts.db.InsertCount(ctx, model.Count{UserID: bob, Count: 8})
	ownID, _ := own.ID.Int64()
	theirID, _ := theirs.ID.Int64()

	rr := ts.do(t, http.MethodDelete, "/api/counts", aliceToken, model.DeleteCountsRequest{CountIDs: []int64{ownID, theirID}})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %v body: %s", rr.Code, rr.Body.String())
	}

	var aliceResp, bobResp model.CountsResponse
	decode(t, ts.do(t, http.MethodGet, "/api/counts", aliceToken, nil), &aliceResp)
	decode(t, ts.do(t, http.MethodGet, "/api/counts", bobToken, nil), &bobResp)
	if len(aliceResp.Counts) != 0 {
		t.Errorf("alice's count should be gone, got %d", len(aliceResp.Counts))
	}
	if len(bobResp.Counts) != 1 || bobResp.Counts[0].Count != 8 {
		t.Errorf("bob's count should be untouched, got %+v", bobResp.Counts)
	}

	rr = ts.do(t, http.MethodDelete, "/api/counts", aliceToken, model.DeleteCountsRequest{})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("empty id list: expected 400, got %v", rr.Code)
	}
}

func TestCreateCountDropsOwnershipLabels(t *testing.T) {
	ts := newTestServer(t)
	userID, token := ts.createUser(t, "a@example.com")
	ts0 := time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC)

	rr := ts.do(t, http.MethodPost, "/api/counts", token, model.CreateCountRequest{
		Count:     4,
		Timestamp: &ts0,
		Labels:    []string{"hens", model.LabelGuestMode, model.LabelOfflinePending},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %v body: %s", rr.Code, rr.Body.String())
	}
	var resp model.AnalyzeResponse
	decode(t, rr, &resp)
	if resp.Count.UserID != userID || !resp.Count.Timestamp.Equal(ts0) {
		t.Errorf("unexpected stored count %+v", resp.Count)
	}
	if len(resp.Count.Labels) != 1 || resp.Count.Labels[0] != "hens" {
		t.Errorf("expected only the hens label, got %v", resp.Count.Labels)
	}
	if len(resp.NewAchievements) == 0 {
		t.Error("expected First Count to be granted")
	}

	rr = ts.do(t, http.MethodPost, "/api/counts", token, model.CreateCountRequest{Count: -1})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("negative count: expected 400, got %v", rr.Code)
	}
}

func TestAchievementsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	userID, token := ts.createUser(t, "a@example.com")
	if _, _, err := ts.db.RecordCount(context.Background(), model.Count{UserID: userID, Count: 1}); err != nil {
		t.Fatal(err)
	}

	rr := ts.do(t, http.MethodGet, "/api/achievements", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %v", rr.Code)
	}
	var resp model.AchievementsResponse
	decode(t, rr, &resp)
	if len(resp.Achievements.Achievements) != 1 || resp.Achievements.Achievements[0].Name != "First Count" {
		t.Errorf("expected First Count earned, got %+v", resp.Achievements.Achievements)
	}
	earned := map[int64]bool{}
	for _, a := range resp.Achievements.Achievements {
		earned[a.ID] = true
	}
	for _, a := range resp.Achievements.AvailableAchievements {
		if earned[a.ID] {
			t.Errorf("earned achievement %q also listed as available", a.Name)
		}
	}
	catalogue, err := ts.db.ListAchievements(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got := len(resp.Achievements.Achievements) + len(resp.Achievements.AvailableAchievements); got != len(catalogue) {
		t.Errorf("earned + available = %d, want the catalogue size %d", got, len(catalogue))
	}
}

func TestMe(t *testing.T) {
	ts := newTestServer(t)
	userID, token := ts.createUser(t, "me@example.com")

	rr := ts.do(t, http.MethodGet, "/api/me", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %v", rr.Code)
	}
	var resp model.MeResponse
	decode(t, rr, &resp)
	if resp.ID != userID || resp.Email != "me@example.com" || !resp.Settings.NotifyAchievements {
		t.Errorf("unexpected /me response %+v", resp)
	}
}
