package handlers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"GigEscrow/internal/apperr"
	"GigEscrow/internal/logger"
)

var validate = validator.New()

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error" example:"Escrow is not in a valid state for this operation"`
	Code  string `json:"code" example:"invalid_escrow_state"`
}

// respondError writes err as an ErrorResponse. Untyped errors are logged and
// reported as a generic 500.
func respondError(c *fiber.Ctx, err error) error {
	message := apperr.ErrInternal.Message
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		message = appErr.Message
	} else {
		logger.FromContext(c.UserContext(), nil).Error("Unhandled error",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err))
	}
	return c.Status(apperr.StatusOf(err)).JSON(ErrorResponse{
		Error: message,
		Code:  apperr.KindOf(err),
	})
}

// parseBody decodes and validates the JSON body into req.
func parseBody(c *fiber.Ctx, req interface{}) error {
	if err := c.BodyParser(req); err != nil {
		return apperr.Newf(apperr.ErrValidation, "Invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return apperr.Newf(apperr.ErrValidation, "%s", validationMessage(err))
	}
	return nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "max":
			msgs = append(msgs, field+" must be at most "+fe.Param()+" characters")
		case "oneof":
			msgs = append(msgs, field+" must be one of: "+fe.Param())
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return strings.Join(msgs, "; ")
}

func paramID(c *fiber.Ctx, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.Newf(apperr.ErrValidation, "Invalid %s", name)
	}
	return uint(id), nil
}
