package model

import "time"

// GuestUserID marks records that belong to no account.
const GuestUserID int64 = 0

// Synthetic labels attached next to model-provided tags.
const (
	LabelGuestMode      = "guest-mode"
	LabelAIFailed       = "ai-failed"
	LabelOfflinePending = "offline-pending"
	LabelAgePrefix      = "age:"
	LabelHealthPrefix   = "health:"
)

type User struct {
	ID           int64  `json:"id" db:"id"`
	Email        string `json:"email" db:"email"`
	PasswordHash string `json:"-" db:"password_hash"`
	CreatedAt    int64  `json:"created_at" db:"created_at"`
}

type UserSettings struct {
	UserID             int64 `json:"userId" db:"user_id"`
	NotifyAchievements bool  `json:"notifyAchievements" db:"notify_achievements"`
	CreatedAt          int64 `json:"createdAt" db:"created_at"`
}

// Count is one analyzed image. It is the wire shape shared by server and
// client.
type Count struct {
	ID         CountID    `json:"id"`
	UserID     int64      `json:"userId"`
	Count      int        `json:"count"`
	ImageURL   *string    `json:"imageUrl"`
	Timestamp  *time.Time `json:"timestamp"`
	Breed      *string    `json:"breed"`
	Confidence *float64   `json:"confidence"`
	Labels     []string   `json:"labels"`
}

// HasLabel reports whether label is present.
func (c Count) HasLabel(label string) bool {
	for _, l := range c.Labels {
		if l == label {
			return true
		}
	}
	return false
}

type AchievementType string

const (
	AchievementTotalCounts     AchievementType = "total_counts"
	AchievementUniqueBreeds    AchievementType = "unique_breeds"
	AchievementMaxCount        AchievementType = "max_count"
	AchievementUniqueDays      AchievementType = "unique_days"
	AchievementConsecutiveDays AchievementType = "consecutive_days"
)

type Achievement struct {
	ID          int64           `json:"id" db:"id"`
	Name        string          `json:"name" db:"name"`
	Description string          `json:"description" db:"description"`
	Type        AchievementType `json:"type" db:"type"`
	Requirement int             `json:"requirement" db:"requirement"`
	Icon        string          `json:"icon" db:"icon"`
}

type UserAchievement struct {
	Achievement
	EarnedAt time.Time `json:"earnedAt"`
}

// Wire payloads

type AnalyzeRequest struct {
	Image string `json:"image" validate:"required"`
}

type AnalyzeResponse struct {
	Count           Count         `json:"count"`
	NewAchievements []Achievement `json:"newAchievements,omitempty"`
}

type CreateCountRequest struct {
	Count      int        `json:"count" validate:"min=0"`
	ImageURL   *string    `json:"imageUrl"`
	Timestamp  *time.Time `json:"timestamp"`
	Breed      *string    `json:"breed"`
	Confidence *float64   `json:"confidence" validate:"omitempty,min=0,max=100"`
	Labels     []string   `json:"labels"`
}

type CountsResponse struct {
	Counts []Count `json:"counts"`
}

type DeleteCountsRequest struct {
	CountIDs []int64 `json:"countIds" validate:"required,min=1"`
}

const (
	HealthHealthy        = "healthy"
	HealthUnhealthy      = "unhealthy"
	DatabaseConnected    = "connected"
	DatabaseDisconnected = "disconnected"
)

type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Error    string `json:"error,omitempty"`
}

type AchievementSet struct {
	Achievements          []UserAchievement `json:"achievements"`
	AvailableAchievements []Achievement     `json:"availableAchievements"`
}

type AchievementsResponse struct {
	Achievements AchievementSet `json:"achievements"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"min=2,max=24"`
}

type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

type MeResponse struct {
	ID       int64        `json:"id"`
	Email    string       `json:"email"`
	Settings UserSettings `json:"settings"`
}
