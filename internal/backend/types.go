package backend

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/five82/clanhub/internal/model"
)

// Query describes a PostgREST select.
type Query struct {
	Table model.Kind

	// Columns is the select list, including embedded relations such as
	// "*,author:profiles(username)". Empty selects every column.
	Columns string

	Order   []Order
	Filters []Filter
	Limit   int
}

// Order sorts a select by one column.
type Order struct {
	Column string
	Desc   bool
}

// Filter is an equality predicate (column=eq.value).
type Filter struct {
	Column string
	Value  string
}

// Tokens is the auth endpoint's session payload.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

// APIError is a non-2xx response from the backend.
type APIError struct {
	Method  string
	Path    string
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api %s %s returned status %d", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("api %s %s returned status %d: %s", e.Method, e.Path, e.Status, e.Message)
}

// IsUnauthorized reports whether err is a 401 from the backend, which usually
// means the access token expired.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// errorBody accepts the error shapes of both the REST and auth services.
type errorBody struct {
	Message          string `json:"message"`
	Msg              string `json:"msg"`
	Code             any    `json:"code"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (b errorBody) text() string {
	for _, s := range []string{b.Message, b.Msg, b.ErrorDescription, b.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}
