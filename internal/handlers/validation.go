package handlers

import (
	"errors"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"support-chat-service/internal/apperr"
)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	}
}

// bindError turns a gin binding failure into an InvalidArgument naming the
// offending field.
func bindError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperr.InvalidArgument("invalid request payload")
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return apperr.InvalidArgument(fe.Field() + " is required")
	case "max":
		return apperr.InvalidArgument(fe.Field() + " is too long")
	default:
		return apperr.InvalidArgument(fe.Field() + " is invalid")
	}
}
