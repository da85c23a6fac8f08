package transfer

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/maheshrc27/postflow/internal/models"
)

type PostCreation struct {
	Platforms     []string  `json:"platforms" validate:"required,min=1,dive,required,max=32,platform"`
	ContentFormat string    `json:"content_format" validate:"required,oneof=post story reel carousel"`
	MediaRef      string    `json:"media_ref" validate:"max=512"`
	Caption       string    `json:"caption" validate:"max=4000"`
	ScheduledFor  time.Time `json:"scheduled_for" validate:"required"`
	Draft         bool      `json:"draft"`
	Override      bool      `json:"override"`
}

type PostReschedule struct {
	ScheduledFor    time.Time `json:"scheduled_for" validate:"required"`
	ExpectedVersion int64     `json:"expected_version" validate:"required,gt=0"`
	Override        bool      `json:"override"`
}

// PostApproval moves a draft onto the publishing schedule at its current time.
type PostApproval struct {
	ExpectedVersion int64 `json:"expected_version" validate:"required,gt=0"`
	Override        bool  `json:"override"`
}

// PostEdit changes content only; nil fields are left as they are.
type PostEdit struct {
	Caption         *string `json:"caption" validate:"omitempty,max=4000"`
	MediaRef        *string `json:"media_ref" validate:"omitempty,max=512"`
	ExpectedVersion int64   `json:"expected_version" validate:"required,gt=0"`
}

type PostWindow struct {
	Platform string
	From     time.Time
	To       time.Time
	Limit    int
}

type SettingsUpdate struct {
	PeakHours             []int  `json:"peak_hours" validate:"required,min=1,max=24,dive,gte=0,lte=23"`
	Timezone              string `json:"timezone" validate:"required"`
	ConflictWindowMinutes int    `json:"conflict_window_minutes" validate:"required,gt=0,lte=1440"`
}

type SlotSuggestion struct {
	Platform     string    `json:"platform"`
	SuggestedFor time.Time `json:"suggested_for"`
	ConflictFree bool      `json:"conflict_free"`
}

type Stats struct {
	Period     models.StatsPeriod          `json:"period"`
	ByStatus   map[models.PostStatus]int64 `json:"by_status"`
	ByPlatform map[string]int64            `json:"by_platform"`
}

type ConflictSummary struct {
	ID           string    `json:"id"`
	Platforms    []string  `json:"platforms"`
	ScheduledFor time.Time `json:"scheduled_for"`
	Status       string    `json:"status"`
}

type CustomClaims struct {
	WorkspaceID string `json:"workspace_id"`
	UserID      string `json:"user_id"`
	jwt.RegisteredClaims
}
