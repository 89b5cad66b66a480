package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

const maxRequestBodySize = 1 << 20 // 1MB

var validate = validator.New(validator.WithRequiredStructEnabled())

// QueryRequest is the body of POST /agent/query and the websocket init frame.
// Query is accepted as an alias of Message.
type QueryRequest struct {
	UserID  string `json:"user_id" validate:"required,max=128"`
	Message string `json:"message" validate:"required,max=8000"`
	Query   string `json:"query,omitempty" validate:"-"`
}

func (q *QueryRequest) normalize() {
	q.UserID = strings.TrimSpace(q.UserID)
	if strings.TrimSpace(q.Message) == "" {
		q.Message = q.Query
	}
	q.Message = strings.TrimSpace(q.Message)
}

// ProfilePatch is a partial profile update keyed by profile field name.
type ProfilePatch map[string]any

// validateRequest runs struct validation and renders the first failure as a
// client-facing message.
func validateRequest(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		switch fe.Tag() {
		case "required":
			return fmt.Errorf("%s is required", jsonName(fe.Field()))
		case "max":
			return fmt.Errorf("%s must be at most %s characters", jsonName(fe.Field()), fe.Param())
		}
		return fmt.Errorf("%s is invalid", jsonName(fe.Field()))
	}
	return err
}

func jsonName(field string) string {
	switch field {
	case "UserID":
		return "user_id"
	case "Message":
		return "message"
	}
	return strings.ToLower(field)
}

func decodeQuery(w http.ResponseWriter, r *http.Request) (QueryRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return QueryRequest{}, fmt.Errorf("invalid request body: %v", err)
	}
	req.normalize()
	if err := validateRequest(req); err != nil {
		return QueryRequest{}, err
	}
	return req, nil
}
