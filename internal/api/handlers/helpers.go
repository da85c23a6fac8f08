package handlers

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/internal/transfer"
	"github.com/maheshrc27/postflow/pkg/logger"
	"go.uber.org/zap"
)

var platformName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("platform", func(fl validator.FieldLevel) bool {
		return platformName.MatchString(strings.TrimSpace(fl.Field().String()))
	})
	return v
}

func GetWorkspaceID(c *fiber.Ctx) string {
	workspaceID, _ := c.Locals("workspace_id").(string)
	return workspaceID
}

// parseBody decodes the JSON body into v and runs its validate tags.
func parseBody(c *fiber.Ctx, v any) error {
	if err := c.BodyParser(v); err != nil {
		return &service.ValidationError{Field: "body", Message: "unable to parse json"}
	}
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &service.ValidationError{Field: fe.Field(), Message: fmt.Sprintf("failed %q check", fe.Tag())}
		}
		return err
	}
	return nil
}

func parseTimeQuery(c *fiber.Ctx, key string) (time.Time, error) {
	value := c.Query(key)
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, &service.ValidationError{Field: key, Message: "expected an RFC 3339 timestamp"}
	}
	return t, nil
}

func requirePostID(c *fiber.Ctx) (string, error) {
	id := c.Query("id")
	if id == "" {
		return "", &service.ValidationError{Field: "id", Message: "post id is required"}
	}
	return id, nil
}

func conflictSummaries(posts []*models.ScheduledPost) []transfer.ConflictSummary {
	out := make([]transfer.ConflictSummary, len(posts))
	for i, p := range posts {
		out[i] = transfer.ConflictSummary{
			ID:           p.ID,
			Platforms:    p.Platforms(),
			ScheduledFor: p.ScheduledFor,
			Status:       string(p.Status),
		}
	}
	return out
}

// respondError maps domain errors to HTTP responses. Anything unrecognised goes to the app's
// ErrorHandler as a 500.
func respondError(c *fiber.Ctx, err error) error {
	var verr *service.ValidationError
	var cerr *service.ConflictError

	switch {
	case errors.As(err, &verr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": verr.Error(),
			"field": verr.Field,
		})
	case errors.As(err, &cerr):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":     "schedule conflict",
			"conflicts": conflictSummaries(cerr.Conflicts),
		})
	case errors.Is(err, repository.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "post not found",
		})
	case errors.Is(err, repository.ErrVersionConflict):
		return c.Status(fiber.StatusPreconditionFailed).JSON(fiber.Map{
			"error": "post was modified, reload and try again",
		})
	case errors.Is(err, service.ErrPostInFlight), errors.Is(err, repository.ErrScheduleFrozen):
		return c.Status(fiber.StatusLocked).JSON(fiber.Map{
			"error": service.ErrPostInFlight.Error(),
		})
	case errors.Is(err, service.ErrPostClosed), errors.Is(err, models.ErrInvalidTransition):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	logger.Error("request failed", zap.String("path", c.Path()), zap.String("workspace_id", GetWorkspaceID(c)), zap.Error(err))
	return err
}
