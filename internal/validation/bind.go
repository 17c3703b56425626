package validation

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
)

// BindAndValidate decodes the JSON body into out and validates it. When
// either step fails it writes the 400 itself and returns the error; the
// handler just returns.
func BindAndValidate(c *gin.Context, out interface{}, v *validatorv10.Validate) error {
	if err := c.ShouldBindJSON(out); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid_request_body",
			"msg":   err.Error(),
		})
		return err
	}

	if err := v.Struct(out); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "validation_failed",
			"fields": fieldErrors(err),
		})
		return err
	}
	return nil
}

// fieldErrors flattens validator output into field → reason pairs the till
// UI can show next to inputs. Struct-level order checks get spelled-out
// messages; ordinary tag failures report the tag.
func fieldErrors(err error) map[string]string {
	fields := map[string]string{}
	var ve validatorv10.ValidationErrors
	if !errors.As(err, &ve) {
		fields["body"] = err.Error()
		return fields
	}
	for _, fe := range ve {
		switch fe.Tag() {
		case "amount_match_lines":
			fields["amount_total"] = "amount_total does not match the sum of the order lines"
		case "required":
			fields[fieldPath(fe)] = "required"
		default:
			fields[fieldPath(fe)] = "failed " + fe.Tag() + " check"
		}
	}
	return fields
}

// fieldPath strips the root struct name off the validator's namespace, so
// CreateOrderRequest.lines[0].qty reports as lines[0].qty. Field segments are
// already json names via the validator's tag-name func.
func fieldPath(fe validatorv10.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	return ns
}
