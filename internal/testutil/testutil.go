package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/sethshoultes/flock-control/internal/db"
	"github.com/sethshoultes/flock-control/internal/logging"
	"github.com/sethshoultes/flock-control/internal/model"
)

// SetupTestDB creates an in-memory SQLite DB with schema, private to t.
func SetupTestDB(t *testing.T) *db.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	database, err := db.New(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("Failed to init in-memory db: %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close()
	})
	return database
}

// MockNotifier captures achievement notifications for testing.
type MockNotifier struct {
	mu   sync.Mutex
	Sent []Notification
}

type Notification struct {
	UserID       int64
	Email        string
	Achievements []model.Achievement
}

func (m *MockNotifier) NotifyAchievements(_ context.Context, user model.User, earned []model.Achievement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, Notification{UserID: user.ID, Email: user.Email, Achievements: earned})
	logging.Debug().Str("email", user.Email).Int("achievements", len(earned)).Msg("mock notification sent")
	return nil
}

func (m *MockNotifier) Notifications() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Notification(nil), m.Sent...)
}
