package ldap

import (
	"fmt"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewError_LDAPCodes(t *testing.T) {
	tests := []struct {
		name      string
		code      uint16
		category  ErrorCategory
		retryable bool
	}{
		{
			name:      "No such object",
			code:      ldap.LDAPResultNoSuchObject,
			category:  ErrorCategoryNotFound,
			retryable: false,
		},
		{
			name:      "Entry already exists",
			code:      ldap.LDAPResultEntryAlreadyExists,
			category:  ErrorCategoryConflict,
			retryable: false,
		},
		{
			name:      "Attribute or value exists",
			code:      ldap.LDAPResultAttributeOrValueExists,
			category:  ErrorCategoryConflict,
			retryable: false,
		},
		{
			name:      "Invalid credentials",
			code:      ldap.LDAPResultInvalidCredentials,
			category:  ErrorCategoryAuthentication,
			retryable: false,
		},
		{
			name:      "Insufficient access",
			code:      ldap.LDAPResultInsufficientAccessRights,
			category:  ErrorCategoryPermission,
			retryable: false,
		},
		{
			name:      "Server busy",
			code:      ldap.LDAPResultBusy,
			category:  ErrorCategoryServer,
			retryable: true,
		},
		{
			name:      "Server unavailable",
			code:      ldap.LDAPResultUnavailable,
			category:  ErrorCategoryServer,
			retryable: true,
		},
		{
			name:      "Invalid DN syntax",
			code:      ldap.LDAPResultInvalidDNSyntax,
			category:  ErrorCategoryValidation,
			retryable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cause := ldap.NewError(tt.code, fmt.Errorf("server response"))
			err := NewError("test_op", cause)

			require.NotNil(t, err)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.retryable, err.IsRetryable())
			assert.Equal(t, tt.code, err.LDAPCode)
			assert.Equal(t, "test_op", err.Operation)
			assert.ErrorIs(t, err, cause)
		})
	}
}

func TestNewError_GenericErrors(t *testing.T) {
	err := NewError("search", fmt.Errorf("connection reset by peer"))
	assert.Equal(t, ErrorCategoryConnection, err.Category)
	assert.True(t, err.IsRetryable())

	err = NewError("search", fmt.Errorf("entry not found"))
	assert.Equal(t, ErrorCategoryNotFound, err.Category)
	assert.False(t, err.IsRetryable())

	assert.Nil(t, NewError("search", nil))
}

func TestNewNotFoundError(t *testing.T) {
	err := NewNotFoundError("get_unit", "OU=Missing,DC=example,DC=com")

	assert.Equal(t, ErrorCategoryNotFound, err.Category)
	assert.Equal(t, "OU=Missing,DC=example,DC=com", err.DN)
	assert.False(t, err.IsRetryable())
	assert.Contains(t, err.Error(), "get_unit")
	assert.Contains(t, err.Error(), "OU=Missing,DC=example,DC=com")
}

func TestWrapError(t *testing.T) {
	t.Run("Nil passes through", func(t *testing.T) {
		assert.NoError(t, WrapError("op", nil))
	})

	t.Run("Existing Error keeps its operation", func(t *testing.T) {
		inner := NewNotFoundError("get_unit", "OU=X,DC=example,DC=com")
		wrapped := WrapError("outer_op", inner)

		var e *Error
		require.ErrorAs(t, wrapped, &e)
		assert.Equal(t, "get_unit", e.Operation)
	})

	t.Run("Plain error gets wrapped", func(t *testing.T) {
		wrapped := WrapError("create_unit", ldap.NewError(ldap.LDAPResultNoSuchObject, fmt.Errorf("no parent")))

		var e *Error
		require.ErrorAs(t, wrapped, &e)
		assert.Equal(t, "create_unit", e.Operation)
		assert.Equal(t, ErrorCategoryNotFound, e.Category)
	})
}

func TestCategoryHelpers(t *testing.T) {
	notFound := ldap.NewError(ldap.LDAPResultNoSuchObject, fmt.Errorf("gone"))
	conflict := ldap.NewError(ldap.LDAPResultEntryAlreadyExists, fmt.Errorf("dup"))

	assert.True(t, IsNotFoundError(notFound))
	assert.False(t, IsConflictError(notFound))

	assert.True(t, IsConflictError(conflict))
	assert.False(t, IsNotFoundError(conflict))

	// Helpers must see through wrapping.
	assert.True(t, IsNotFoundError(WrapError("op", notFound)))
	assert.True(t, IsConflictError(WrapError("op", conflict)))

	assert.False(t, IsNotFoundError(nil))
	assert.False(t, IsConflictError(nil))
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, IsRetryableError(NewError("op", ldap.NewError(ldap.LDAPResultBusy, fmt.Errorf("busy")))))
	assert.False(t, IsRetryableError(NewError("op", ldap.NewError(ldap.LDAPResultNoSuchObject, fmt.Errorf("gone")))))
	assert.True(t, IsRetryableError(fmt.Errorf("network timeout")))
	assert.False(t, IsRetryableError(nil))
}
