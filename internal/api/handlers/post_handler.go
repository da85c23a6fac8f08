package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/internal/transfer"
)

type PostHandler struct {
	s service.PostService
}

func NewPostHandler(service service.PostService) *PostHandler {
	return &PostHandler{s: service}
}

func (h *PostHandler) CreatePost(c *fiber.Ctx) error {
	workspaceID := GetWorkspaceID(c)

	var pc transfer.PostCreation
	if err := parseBody(c, &pc); err != nil {
		return respondError(c, err)
	}

	post, err := h.s.CreatePost(c.Context(), workspaceID, &pc)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(post)
}

func (h *PostHandler) ListPosts(c *fiber.Ctx) error {
	workspaceID := GetWorkspaceID(c)

	if postID := c.Query("id"); postID != "" {
		post, err := h.s.PostInfo(c.Context(), workspaceID, postID)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusOK).JSON(post)
	}

	from, err := parseTimeQuery(c, "from")
	if err != nil {
		return respondError(c, err)
	}
	to, err := parseTimeQuery(c, "to")
	if err != nil {
		return respondError(c, err)
	}

	posts, err := h.s.List(c.Context(), workspaceID, transfer.PostWindow{
		Platform: c.Query("platform"),
		From:     from,
		To:       to,
		Limit:    c.QueryInt("limit", 0),
	})
	if err != nil {
		return respondError(c, err)
	}
	if posts == nil {
		posts = []*models.ScheduledPost{}
	}

	return c.Status(fiber.StatusOK).JSON(posts)
}

func (h *PostHandler) ReschedulePost(c *fiber.Ctx) error {
	workspaceID := GetWorkspaceID(c)
	postID, err := requirePostID(c)
	if err != nil {
		return respondError(c, err)
	}

	var r transfer.PostReschedule
	if err := parseBody(c, &r); err != nil {
		return respondError(c, err)
	}

	post, err := h.s.Reschedule(c.Context(), workspaceID, postID, &r)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(post)
}

func (h *PostHandler) SchedulePost(c *fiber.Ctx) error {
	workspaceID := GetWorkspaceID(c)
	postID, err := requirePostID(c)
	if err != nil {
		return respondError(c, err)
	}

	var a transfer.PostApproval
	if err := parseBody(c, &a); err != nil {
		return respondError(c, err)
	}

	post, err := h.s.Schedule(c.Context(), workspaceID, postID, &a)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(post)
}

func (h *PostHandler) EditPost(c *fiber.Ctx) error {
	workspaceID := GetWorkspaceID(c)
	postID, err := requirePostID(c)
	if err != nil {
		return respondError(c, err)
	}

	var e transfer.PostEdit
	if err := parseBody(c, &e); err != nil {
		return respondError(c, err)
	}

	post, err := h.s.Edit(c.Context(), workspaceID, postID, &e)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(post)
}

// CancelPost answers 202 when the post is mid-publish and the cancel is only queued.
func (h *PostHandler) CancelPost(c *fiber.Ctx) error {
	workspaceID := GetWorkspaceID(c)
	postID, err := requirePostID(c)
	if err != nil {
		return respondError(c, err)
	}

	post, err := h.s.Cancel(c.Context(), workspaceID, postID)
	if err != nil {
		return respondError(c, err)
	}

	if post.Status == models.PostStatusPublishing {
		return c.Status(fiber.StatusAccepted).JSON(post)
	}
	return c.Status(fiber.StatusOK).JSON(post)
}

func (h *PostHandler) ListAttempts(c *fiber.Ctx) error {
	workspaceID := GetWorkspaceID(c)
	postID, err := requirePostID(c)
	if err != nil {
		return respondError(c, err)
	}

	attempts, err := h.s.Attempts(c.Context(), workspaceID, postID)
	if err != nil {
		return respondError(c, err)
	}
	if attempts == nil {
		attempts = []*models.PublishAttempt{}
	}

	return c.Status(fiber.StatusOK).JSON(attempts)
}
