package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"activity-rag/internal/apperr"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// DecodeJSON decodes and validates a JSON request body. Validation rules come
// from `validate` struct tags on dst.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Wrap(apperr.ErrInvalidInput, "decode request body", err)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, len(verrs))
			for i, fe := range verrs {
				fields[i] = fe.Field() + " failed " + fe.Tag()
			}
			return apperr.New(apperr.ErrInvalidInput, "invalid request: %s", strings.Join(fields, ", "))
		}
		return apperr.Wrap(apperr.ErrInvalidInput, "validate request", err)
	}
	return nil
}
