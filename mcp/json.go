package mcp

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/Skryldev/mcp-user-tools/apperr"
)

// bind decodes the request body into v and validates it. An empty body
// decodes as {}. Unknown fields are ignored.
func (s *Server) bind(r *http.Request, tool string, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperr.New(apperr.BadRequest, tool, "invalid arguments", err)
	}
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			err = errors.New(verrs[0].Translate(s.translator))
		}
		return apperr.New(apperr.BadRequest, tool, "invalid arguments", err)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writing response", "method", r.Method, "path", r.URL.Path, "error", err)
	}
}

func (s *Server) success(w http.ResponseWriter, r *http.Request, tool string, result any, extras map[string]any) {
	body := make(map[string]any, len(extras)+3)
	for k, v := range extras {
		body[k] = v
	}
	body["tool"] = tool
	body["result"] = result
	body["status"] = "success"
	s.writeJSON(w, r, http.StatusOK, body)
}

func (s *Server) failure(w http.ResponseWriter, r *http.Request, tool string, err error) {
	ae := apperr.FromError(err)
	s.writeJSON(w, r, ae.StatusCode(), map[string]any{
		"tool":   tool,
		"error":  ae.Error(),
		"status": "error",
	})
}
