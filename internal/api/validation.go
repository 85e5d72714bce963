package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report json field names instead of Go ones
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

var errEmptyBody = errors.New("request body is empty")

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

// bindAndValidate decodes the body into dst and runs its validate tags. It
// writes the 400 response itself and reports whether the handler may go on.
func bindAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(w, r, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON: "+err.Error())
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", formatValidationError(err))
		return false
	}
	return true
}

func formatValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		switch e.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", e.Field()))
		case "email":
			msgs = append(msgs, fmt.Sprintf("%s must be a valid email address", e.Field()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", e.Field(), e.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", e.Field(), e.Tag()))
		}
	}
	return strings.Join(msgs, ", ")
}
