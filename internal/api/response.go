package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

type errorResponse struct {
	Error string `json:"error"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

var validate = newValidate()

func newValidate() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeRequest reads a JSON body into dst and runs its validate tags.
// The returned error message is safe to show to the client.
func decodeRequest(r *http.Request, dst any) error {
	if err := decodeRequestRaw(r, dst); err != nil {
		return errors.New("invalid request body")
	}
	return validateRequest(dst)
}

func decodeRequestRaw(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

func validateRequest(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fields validator.ValidationErrors
	if errors.As(err, &fields) && len(fields) > 0 {
		fe := fields[0]
		if fe.Param() != "" {
			return fmt.Errorf("%s: failed %s=%s", fe.Field(), fe.Tag(), fe.Param())
		}
		return fmt.Errorf("%s: failed %s", fe.Field(), fe.Tag())
	}
	return err
}
