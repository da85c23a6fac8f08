package handlers

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postflow/internal/service"
)

type SlotHandler struct {
	slots    service.SlotRecommender
	settings service.SettingsService
}

func NewSlotHandler(slots service.SlotRecommender, settings service.SettingsService) *SlotHandler {
	return &SlotHandler{slots: slots, settings: settings}
}

// Suggest takes ?platform= and ?day= as either a date (read in the workspace timezone) or an
// RFC 3339 timestamp. Without a day it suggests for today.
func (h *SlotHandler) Suggest(c *fiber.Ctx) error {
	workspaceID := GetWorkspaceID(c)

	platform := strings.ToLower(strings.TrimSpace(c.Query("platform")))
	if platform == "" || !platformName.MatchString(platform) {
		return respondError(c, &service.ValidationError{Field: "platform", Message: "a platform name is required"})
	}

	day := time.Now()
	if value := c.Query("day"); value != "" {
		loc, _, err := h.settings.Location(c.Context(), workspaceID)
		if err != nil {
			return respondError(c, err)
		}
		if parsed, err := time.ParseInLocation(time.DateOnly, value, loc); err == nil {
			day = parsed
		} else if parsed, err := time.Parse(time.RFC3339, value); err == nil {
			day = parsed
		} else {
			return respondError(c, &service.ValidationError{Field: "day", Message: "expected YYYY-MM-DD or an RFC 3339 timestamp"})
		}
	}

	return c.JSON(h.slots.Suggest(c.Context(), workspaceID, platform, day))
}
