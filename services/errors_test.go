package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDomainError(t *testing.T) {
	baseErr := errors.New("base error")
	domainErr := NewDomainError(ErrorTypeNotFound, "resource not found", baseErr)

	assert.Equal(t, ErrorTypeNotFound, domainErr.Type)
	assert.Equal(t, "resource not found", domainErr.Message)
	assert.Equal(t, baseErr, domainErr.Err)
	assert.NotNil(t, domainErr.Details)
}

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *DomainError
		wantMsg string
	}{
		{
			name: "error with wrapped error",
			err: &DomainError{
				Type:    ErrorTypeNotFound,
				Message: "principal not found",
				Err:     errors.New("db error"),
			},
			wantMsg: "not_found: principal not found (db error)",
		},
		{
			name: "error without wrapped error",
			err: &DomainError{
				Type:    ErrorTypeValidation,
				Message: "invalid role",
			},
			wantMsg: "validation: invalid role",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMsg, tt.err.Error())
		})
	}
}

func TestDomainError_Unwrap(t *testing.T) {
	baseErr := errors.New("connection refused")
	domainErr := NewDomainError(ErrorTypeUnavailable, "store unavailable", baseErr)

	assert.Equal(t, baseErr, errors.Unwrap(domainErr))
	assert.True(t, errors.Is(domainErr, baseErr))
}

func TestDomainError_Is(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{"same error type", NewDomainError(ErrorTypeNotFound, "gone", nil), ErrPrincipalNotFound, true},
		{"different error type", NewDomainError(ErrorTypeValidation, "bad", nil), ErrPrincipalNotFound, false},
		{"not a domain error", NewDomainError(ErrorTypeNotFound, "gone", nil), errors.New("regular"), false},
		{"unavailable matches sentinel", WrapUnavailable("get", errors.New("timeout")), ErrStoreUnavailable, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Is(tt.err, tt.target))
		})
	}
}

func TestDomainError_WithDetail(t *testing.T) {
	err := NewDomainError(ErrorTypeValidation, "validation error", nil)

	err.WithDetail("field", "role").WithDetail("value", "superuser")

	assert.Equal(t, "role", err.Details["field"])
	assert.Equal(t, "superuser", err.Details["value"])

	empty := &DomainError{Type: ErrorTypeValidation}
	empty.WithDetail("k", 1)
	assert.Equal(t, 1, empty.Details["k"])
}

func TestErrorTypeHelpers(t *testing.T) {
	tests := []struct {
		name  string
		check func(error) bool
		hit   error
		miss  error
	}{
		{"not found", IsNotFoundError, ErrPrincipalNotFound, ErrInvalidRole},
		{"validation", IsValidationError, ErrInvalidSection, ErrSectionDenied},
		{"unauthorized", IsUnauthorizedError, ErrInvalidToken, ErrPendingApproval},
		{"forbidden", IsForbiddenError, ErrAdminRequired, ErrUnauthorized},
		{"rate limit", IsRateLimitError, ErrRateLimitExceeded, ErrStoreUnavailable},
		{"unavailable", IsUnavailableError, ErrStoreUnavailable, ErrRateLimitExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.hit))
			assert.True(t, tt.check(fmt.Errorf("wrapped: %w", tt.hit)))
			assert.False(t, tt.check(tt.miss))
			assert.False(t, tt.check(errors.New("regular")))
			assert.False(t, tt.check(nil))
		})
	}
}

func TestGetErrorType(t *testing.T) {
	assert.Equal(t, ErrorTypeForbidden, GetErrorType(ErrSectionDenied))
	assert.Equal(t, ErrorTypeUnavailable, GetErrorType(fmt.Errorf("x: %w", ErrStoreUnavailable)))
	assert.Equal(t, ErrorType(""), GetErrorType(errors.New("plain")))
}

func TestGetErrorDetails(t *testing.T) {
	err := WrapUnavailable("set_permission", errors.New("timeout"))
	details := GetErrorDetails(err)
	require.NotNil(t, details)
	assert.Equal(t, "set_permission", details["op"])

	assert.Nil(t, GetErrorDetails(errors.New("plain")))
}

func TestDomainError_WithCopiesSentinel(t *testing.T) {
	err := ErrPendingApproval.With("section", "roadmap")

	assert.NotSame(t, ErrPendingApproval, err)
	assert.Empty(t, ErrPendingApproval.Details)
	assert.Equal(t, "roadmap", err.Details["section"])
	assert.Equal(t, "pending_approval", err.Code)
	assert.Equal(t, ErrPendingApproval.Message, err.Message)
	assert.ErrorIs(t, err, ErrPendingApproval)

	again := err.With("principal_id", "u1")
	assert.Len(t, again.Details, 2)
	assert.Len(t, err.Details, 1)
}

func TestGetErrorCode(t *testing.T) {
	assert.Equal(t, "access_denied", GetErrorCode(fmt.Errorf("x: %w", ErrSectionDenied)))
	assert.Empty(t, GetErrorCode(ErrAdminRequired))
	assert.Empty(t, GetErrorCode(errors.New("plain")))
}
