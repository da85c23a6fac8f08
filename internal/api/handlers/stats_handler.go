package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postflow/internal/service"
)

type StatsHandler struct {
	s service.StatsService
}

func NewStatsHandler(service service.StatsService) *StatsHandler {
	return &StatsHandler{s: service}
}

func (h *StatsHandler) GetStats(c *fiber.Ctx) error {
	stats, err := h.s.GetStats(c.Context(), GetWorkspaceID(c), c.Query("period", service.PeriodWeek))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(stats)
}
