// Package httpx provides HTTP response utilities following RFC7807 problem details.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/abdialidrus/scm-mining/internal/shared"
)

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Problem sends an RFC7807 problem details response.
func Problem(w http.ResponseWriter, status int, title, detail string) {
	ProblemExt(w, status, title, detail, nil)
}

// ProblemExt sends a problem response with extension members merged at top level.
func ProblemExt(w http.ResponseWriter, status int, title, detail string, ext map[string]any) {
	body := map[string]any{
		"title":  title,
		"status": status,
	}
	if detail != "" {
		body["detail"] = detail
	}
	for k, v := range ext {
		if _, taken := body[k]; !taken {
			body[k] = v
		}
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// DecodeJSON decodes JSON request body into the target struct.
func DecodeJSON(r *http.Request, target any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return shared.Invalid("body", err.Error())
	}
	return nil
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate runs struct tag validation and converts the first failure into a
// shared.ValidationError. Failures inside a "lines" slice report the 1-based line.
func Validate(v any) error {
	err := validatorInstance().Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return shared.Invalid("body", err.Error())
	}
	fe := fieldErrs[0]
	line, field := lineOf(fe.Namespace())
	if field == "" {
		field = fe.Field()
	}
	return &shared.ValidationError{Line: line, Field: field, Reason: fmt.Sprintf("failed %q", fe.Tag())}
}

// lineOf extracts the line index from a namespace such as "createRequest.lines[2].qty".
func lineOf(namespace string) (int, string) {
	start := strings.Index(namespace, "lines[")
	if start < 0 {
		return 0, ""
	}
	rest := namespace[start+len("lines["):]
	end := strings.Index(rest, "]")
	if end < 0 {
		return 0, ""
	}
	idx, err := strconv.Atoi(rest[:end])
	if err != nil {
		return 0, ""
	}
	field := strings.TrimPrefix(rest[end+1:], ".")
	return idx + 1, field
}

// Int64Param parses a chi URL parameter.
func Int64Param(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.Invalid(name, "must be a positive integer")
	}
	return id, nil
}

// Int64Query parses an optional query parameter; absent means zero.
func Int64Query(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, shared.Invalid(name, "must be a non-negative integer")
	}
	return id, nil
}
