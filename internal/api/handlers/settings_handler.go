package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/internal/transfer"
)

type SettingsHandler struct {
	s service.SettingsService
}

func NewSettingsHandler(service service.SettingsService) *SettingsHandler {
	return &SettingsHandler{s: service}
}

func (h *SettingsHandler) GetSettingsInfo(c *fiber.Ctx) error {
	workspaceID := GetWorkspaceID(c)

	settingsInfo, err := h.s.GetSettingsInfo(c.Context(), workspaceID)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(settingsInfo)
}

func (h *SettingsHandler) UpdateSettings(c *fiber.Ctx) error {
	workspaceID := GetWorkspaceID(c)

	var settings transfer.SettingsUpdate
	if err := parseBody(c, &settings); err != nil {
		return respondError(c, err)
	}

	updated, err := h.s.UpdateSettings(c.Context(), workspaceID, &settings)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(updated)
}
