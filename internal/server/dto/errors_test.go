package dto

import (
	"errors"
	"net/http"
	"testing"
)

func TestAPIError(t *testing.T) {
	t.Run("NewAPIError", func(t *testing.T) {
		err := NewAPIError(http.StatusNotFound, ErrorCodeNotFound, "resource not found")
		if err.StatusCode() != http.StatusNotFound {
			t.Errorf("Expected status code %d, got %d", http.StatusNotFound, err.StatusCode())
		}
		if err.Code() != ErrorCodeNotFound {
			t.Errorf("Expected code %s, got %s", ErrorCodeNotFound, err.Code())
		}
		if err.Error() != "resource not found" {
			t.Errorf("Expected message 'resource not found', got '%s'", err.Error())
		}
		if err.Details() == nil {
			t.Error("Expected Details() to return non-nil map")
		}
	})
	t.Run("WithDetails", func(t *testing.T) {
		t.Run("adds details", func(t *testing.T) {
			err := NewAPIError(http.StatusBadRequest, ErrorCodeValidationFailed, "validation failed").
				WithDetails(map[string]any{"field": "email", "reason": "invalid format"})
			if err.Details()["field"] != "email" {
				t.Errorf("Expected field 'email', got %v", err.Details()["field"])
			}
			if err.Details()["reason"] != "invalid format" {
				t.Errorf("Expected reason 'invalid format', got %v", err.Details()["reason"])
			}
		})
		t.Run("initializes nil map", func(t *testing.T) {
			err := (&APIError{
				statusCode: http.StatusBadRequest,
				code:       ErrorCodeValidationFailed,
				message:    "test",
				details:    nil,
			}).WithDetails(map[string]any{"key": "value"})
			if err.Details()["key"] != "value" {
				t.Error("Expected WithDetails to initialize nil map")
			}
		})
	})
	t.Run("WithDetail", func(t *testing.T) {
		err := NewAPIError(http.StatusBadRequest, ErrorCodeValidationFailed, "validation failed").
			WithDetail("field", "username")
		if err.Details()["field"] != "username" {
			t.Errorf("Expected field 'username', got %v", err.Details()["field"])
		}
	})
	t.Run("Wrap", func(t *testing.T) {
		origErr := errors.New("original error")
		err := NewAPIError(http.StatusInternalServerError, ErrorCodeInternal, "wrapped error").Wrap(origErr)
		if err.Unwrap() != origErr {
			t.Error("Expected Unwrap() to return the original error")
		}
		if err.Error() != "wrapped error: original error" {
			t.Errorf("Expected error message 'wrapped error: original error', got '%s'", err.Error())
		}
	})
	t.Run("ErrorsAs", func(t *testing.T) {
		var apiErr *APIError
		wrapped := NewAPIError(http.StatusNotFound, ErrorCodeFileNotFound, "file not found")
		if !errors.As(error(wrapped), &apiErr) {
			t.Fatal("Expected errors.As to match *APIError")
		}
		if apiErr.Code() != ErrorCodeFileNotFound {
			t.Errorf("Expected code %s, got %s", ErrorCodeFileNotFound, apiErr.Code())
		}
	})
}

func TestErrorConstructors(t *testing.T) {
	t.Run("NotFound", func(t *testing.T) {
		err := NotFound("fragment")
		if err.StatusCode() != http.StatusNotFound {
			t.Errorf("Expected status code %d, got %d", http.StatusNotFound, err.StatusCode())
		}
		if err.Code() != ErrorCodeNotFound {
			t.Errorf("Expected code %s, got %s", ErrorCodeNotFound, err.Code())
		}
		if err.Error() != "fragment not found" {
			t.Errorf("Expected message 'fragment not found', got '%s'", err.Error())
		}
	})
	t.Run("BadRequest", func(t *testing.T) {
		err := BadRequest("invalid input")
		if err.StatusCode() != http.StatusBadRequest {
			t.Errorf("Expected status code %d, got %d", http.StatusBadRequest, err.StatusCode())
		}
		if err.Code() != ErrorCodeValidationFailed {
			t.Errorf("Expected code %s, got %s", ErrorCodeValidationFailed, err.Code())
		}
	})
	t.Run("MissingField", func(t *testing.T) {
		err := MissingField("email")
		if err.StatusCode() != http.StatusBadRequest {
			t.Errorf("Expected status code %d, got %d", http.StatusBadRequest, err.StatusCode())
		}
		if err.Code() != ErrorCodeMissingField {
			t.Errorf("Expected code %s, got %s", ErrorCodeMissingField, err.Code())
		}
		if err.Error() != "Missing required field: email" {
			t.Errorf("Expected message 'Missing required field: email', got '%s'", err.Error())
		}
	})
	t.Run("Conflict", func(t *testing.T) {
		err := Conflict("email already registered")
		if err.StatusCode() != http.StatusConflict {
			t.Errorf("Expected status code %d, got %d", http.StatusConflict, err.StatusCode())
		}
		if err.Code() != ErrorCodeConflict {
			t.Errorf("Expected code %s, got %s", ErrorCodeConflict, err.Code())
		}
	})
	t.Run("Forbidden", func(t *testing.T) {
		err := Forbidden("access denied")
		if err.StatusCode() != http.StatusForbidden {
			t.Errorf("Expected status code %d, got %d", http.StatusForbidden, err.StatusCode())
		}
		if err.Code() != ErrorCodeForbidden {
			t.Errorf("Expected code %s, got %s", ErrorCodeForbidden, err.Code())
		}
	})
	t.Run("Unauthorized", func(t *testing.T) {
		err := Unauthorized()
		if err.StatusCode() != http.StatusUnauthorized {
			t.Errorf("Expected status code %d, got %d", http.StatusUnauthorized, err.StatusCode())
		}
		if err.Code() != ErrorCodeUnauthorized {
			t.Errorf("Expected code %s, got %s", ErrorCodeUnauthorized, err.Code())
		}
	})
	t.Run("Internal", func(t *testing.T) {
		err := Internal("server error")
		if err.StatusCode() != http.StatusInternalServerError {
			t.Errorf("Expected status code %d, got %d", http.StatusInternalServerError, err.StatusCode())
		}
		if err.Code() != ErrorCodeInternal {
			t.Errorf("Expected code %s, got %s", ErrorCodeInternal, err.Code())
		}
	})
	t.Run("InternalWithError", func(t *testing.T) {
		origErr := errors.New("table write failed")
		err := InternalWithError("failed to store file", origErr)
		if err.StatusCode() != http.StatusInternalServerError {
			t.Errorf("Expected status code %d, got %d", http.StatusInternalServerError, err.StatusCode())
		}
		if err.Unwrap() != origErr {
			t.Error("Expected InternalWithError to wrap the original error")
		}
	})
	t.Run("QuotaExceeded", func(t *testing.T) {
		err := QuotaExceeded("files")
		if err.StatusCode() != http.StatusForbidden {
			t.Errorf("Expected status code %d, got %d", http.StatusForbidden, err.StatusCode())
		}
		if err.Code() != ErrorCodeQuotaExceeded {
			t.Errorf("Expected code %s, got %s", ErrorCodeQuotaExceeded, err.Code())
		}
		if err.Error() != "Quota exceeded for files" {
			t.Errorf("Expected message 'Quota exceeded for files', got '%s'", err.Error())
		}
	})
	t.Run("PayloadTooLarge", func(t *testing.T) {
		err := PayloadTooLarge(1 << 20)
		if err.StatusCode() != http.StatusRequestEntityTooLarge {
			t.Errorf("Expected status code %d, got %d", http.StatusRequestEntityTooLarge, err.StatusCode())
		}
		if err.Code() != ErrorCodePayloadTooLarge {
			t.Errorf("Expected code %s, got %s", ErrorCodePayloadTooLarge, err.Code())
		}
		if err.Details()["limit_bytes"] != int64(1<<20) {
			t.Errorf("Expected limit_bytes detail %d, got %v", int64(1<<20), err.Details()["limit_bytes"])
		}
	})
	t.Run("RateLimitExceeded", func(t *testing.T) {
		err := RateLimitExceeded(30)
		if err.StatusCode() != http.StatusTooManyRequests {
			t.Errorf("Expected status code %d, got %d", http.StatusTooManyRequests, err.StatusCode())
		}
		if err.Code() != ErrorCodeRateLimited {
			t.Errorf("Expected code %s, got %s", ErrorCodeRateLimited, err.Code())
		}
		if err.Details()["retry_after_seconds"] != 30 {
			t.Errorf("Expected retry_after_seconds detail 30, got %v", err.Details()["retry_after_seconds"])
		}
	})
	t.Run("UnsupportedMedia", func(t *testing.T) {
		err := UnsupportedMedia("not an image")
		if err.StatusCode() != http.StatusUnsupportedMediaType {
			t.Errorf("Expected status code %d, got %d", http.StatusUnsupportedMediaType, err.StatusCode())
		}
		if err.Code() != ErrorCodeUnsupportedMedia {
			t.Errorf("Expected code %s, got %s", ErrorCodeUnsupportedMedia, err.Code())
		}
	})
	t.Run("InvalidProvider", func(t *testing.T) {
		err := InvalidProvider()
		if err.StatusCode() != http.StatusNotFound {
			t.Errorf("Expected status code %d, got %d", http.StatusNotFound, err.StatusCode())
		}
		if err.Code() != ErrorCodeInvalidProvider {
			t.Errorf("Expected code %s, got %s", ErrorCodeInvalidProvider, err.Code())
		}
	})
	t.Run("OAuthError", func(t *testing.T) {
		err := OAuthError("token exchange failed")
		if err.StatusCode() != http.StatusInternalServerError {
			t.Errorf("Expected status code %d, got %d", http.StatusInternalServerError, err.StatusCode())
		}
		if err.Code() != ErrorCodeOAuthError {
			t.Errorf("Expected code %s, got %s", ErrorCodeOAuthError, err.Code())
		}
	})
	t.Run("Expired", func(t *testing.T) {
		err := Expired("signed link")
		if err.StatusCode() != http.StatusBadRequest {
			t.Errorf("Expected status code %d, got %d", http.StatusBadRequest, err.StatusCode())
		}
		if err.Code() != ErrorCodeExpired {
			t.Errorf("Expected code %s, got %s", ErrorCodeExpired, err.Code())
		}
		if err.Error() != "signed link expired" {
			t.Errorf("Expected message 'signed link expired', got '%s'", err.Error())
		}
	})
}

func TestRequestValidation(t *testing.T) {
	t.Run("MissingRequired", func(t *testing.T) {
		cases := []struct {
			name string
			req  Validatable
		}{
			{"login email", &LoginRequest{Password: "x"}},
			{"login password", &LoginRequest{Email: "a@b.c"}},
			{"register name", &RegisterRequest{Email: "a@b.c", Password: "x"}},
			{"create fragment title", &CreateFragmentRequest{Content: "body"}},
			{"search query", &SearchRequest{}},
			{"subscribe endpoint", &SubscribePushRequest{P256dh: "k", Auth: "a"}},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				err := tc.req.Validate()
				if err == nil {
					t.Fatal("Expected validation error")
				}
				var apiErr *APIError
				if !errors.As(err, &apiErr) {
					t.Fatalf("Expected *APIError, got %T", err)
				}
				if apiErr.StatusCode() != http.StatusBadRequest {
					t.Errorf("Expected status 400, got %d", apiErr.StatusCode())
				}
			})
		}
	})
	t.Run("LimitBounds", func(t *testing.T) {
		req := &SearchRequest{Query: "hello", Limit: 101}
		if req.Validate() == nil {
			t.Error("Expected validation error for limit over 100")
		}
		req.Limit = 100
		if err := req.Validate(); err != nil {
			t.Errorf("Expected limit 100 to validate, got %v", err)
		}
	})
}
