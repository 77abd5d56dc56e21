package ldap

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// ErrorCategory represents different categories of LDAP errors.
type ErrorCategory string

const (
	ErrorCategoryConnection     ErrorCategory = "connection"
	ErrorCategoryAuthentication ErrorCategory = "authentication"
	ErrorCategoryPermission     ErrorCategory = "permission"
	ErrorCategoryNotFound       ErrorCategory = "not_found"
	ErrorCategoryConflict       ErrorCategory = "conflict"
	ErrorCategoryValidation     ErrorCategory = "validation"
	ErrorCategoryServer         ErrorCategory = "server"
	ErrorCategoryUnknown        ErrorCategory = "unknown"
)

// Error provides enhanced error information for LDAP operations.
type Error struct {
	Operation string        // The operation that failed
	Category  ErrorCategory // Error category
	LDAPCode  uint16        // LDAP result code, if any
	Message   string        // Human-readable message
	DN        string        // DN involved in the operation, if applicable
	Retryable bool          // Whether the error is retryable
	Cause     error         // Underlying error
}

func (e *Error) Error() string {
	var parts []string

	if e.LDAPCode > 0 {
		parts = append(parts, fmt.Sprintf("LDAP %s failed (code %d)", e.Operation, e.LDAPCode))
	} else {
		parts = append(parts, fmt.Sprintf("LDAP %s failed", e.Operation))
	}

	if e.Message != "" {
		parts = append(parts, e.Message)
	}

	if e.DN != "" {
		parts = append(parts, fmt.Sprintf("DN: %s", e.DN))
	}

	return strings.Join(parts, " - ")
}

func (e *Error) IsRetryable() bool {
	return e.Retryable
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new LDAP error, extracting result-code information
// when the cause is a go-ldap error.
func NewError(operation string, err error) *Error {
	if err == nil {
		return nil
	}

	e := &Error{
		Operation: operation,
		Cause:     err,
	}

	var ldapErr *ldap.Error
	if errors.As(err, &ldapErr) {
		e.LDAPCode = ldapErr.ResultCode
		e.Category = categorizeCode(ldapErr.ResultCode)
		e.Retryable = isCodeRetryable(ldapErr.ResultCode)
		e.Message = ldap.LDAPResultCodeMap[ldapErr.ResultCode]
	} else {
		e.Category = categorizeGenericError(err)
		e.Retryable = isGenericErrorRetryable(err)
		e.Message = err.Error()
	}

	return e
}

// NewNotFoundError creates an error for an entry that does not exist at
// the given DN.
func NewNotFoundError(operation, dn string) *Error {
	return &Error{
		Operation: operation,
		Category:  ErrorCategoryNotFound,
		Message:   "entry not found",
		DN:        dn,
	}
}

// WrapError wraps an error with operation context.
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		if e.Operation == "" {
			e.Operation = operation
		}
		return e
	}

	return NewError(operation, err)
}

// categorizeCode categorizes an error based on LDAP result code.
func categorizeCode(code uint16) ErrorCategory {
	switch code {
	case ldap.LDAPResultInvalidCredentials,
		ldap.LDAPResultInappropriateAuthentication,
		ldap.LDAPResultStrongAuthRequired:
		return ErrorCategoryAuthentication

	case ldap.LDAPResultInsufficientAccessRights,
		ldap.LDAPResultUnwillingToPerform:
		return ErrorCategoryPermission

	case ldap.LDAPResultNoSuchObject,
		ldap.LDAPResultNoSuchAttribute,
		ldap.LDAPResultUndefinedAttributeType:
		return ErrorCategoryNotFound

	case ldap.LDAPResultEntryAlreadyExists,
		ldap.LDAPResultAttributeOrValueExists,
		ldap.LDAPResultObjectClassViolation,
		ldap.LDAPResultNotAllowedOnNonLeaf:
		return ErrorCategoryConflict

	case ldap.LDAPResultInvalidAttributeSyntax,
		ldap.LDAPResultConstraintViolation,
		ldap.LDAPResultInvalidDNSyntax,
		ldap.LDAPResultNamingViolation:
		return ErrorCategoryValidation

	case ldap.LDAPResultServerDown,
		ldap.LDAPResultUnavailable,
		ldap.LDAPResultBusy,
		ldap.LDAPResultTimeLimitExceeded,
		ldap.LDAPResultAdminLimitExceeded:
		return ErrorCategoryServer

	case ldap.LDAPResultConnectError,
		ldap.LDAPResultProtocolError:
		return ErrorCategoryConnection

	default:
		return ErrorCategoryUnknown
	}
}

// categorizeGenericError categorizes non-LDAP errors by message inspection.
func categorizeGenericError(err error) ErrorCategory {
	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "connection"),
		strings.Contains(errStr, "network"),
		strings.Contains(errStr, "timeout"),
		strings.Contains(errStr, "broken pipe"):
		return ErrorCategoryConnection
	case strings.Contains(errStr, "credentials"),
		strings.Contains(errStr, "authentication"):
		return ErrorCategoryAuthentication
	case strings.Contains(errStr, "not found"),
		strings.Contains(errStr, "no such object"):
		return ErrorCategoryNotFound
	case strings.Contains(errStr, "access"),
		strings.Contains(errStr, "denied"):
		return ErrorCategoryPermission
	default:
		return ErrorCategoryUnknown
	}
}

// isCodeRetryable determines if an LDAP result code indicates a retryable condition.
func isCodeRetryable(code uint16) bool {
	switch code {
	case ldap.LDAPResultBusy,
		ldap.LDAPResultUnavailable,
		ldap.LDAPResultServerDown,
		ldap.LDAPResultTimeLimitExceeded,
		ldap.LDAPResultConnectError:
		return true
	default:
		return false
	}
}

// isGenericErrorRetryable determines if a generic error is retryable.
func isGenericErrorRetryable(err error) bool {
	errStr := strings.ToLower(err.Error())

	retryablePatterns := []string{
		"connection",
		"timeout",
		"network",
		"broken pipe",
		"connection reset",
		"temporary failure",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// Category returns the category of an error.
func Category(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryUnknown
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}

	var ldapErr *ldap.Error
	if errors.As(err, &ldapErr) {
		return categorizeCode(ldapErr.ResultCode)
	}

	return categorizeGenericError(err)
}

// IsRetryableError checks if an error is retryable.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var retryable RetryableError
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}

	return isGenericErrorRetryable(err)
}

// IsNotFoundError checks if an error indicates a "not found" condition.
func IsNotFoundError(err error) bool {
	return Category(err) == ErrorCategoryNotFound
}

// IsConflictError checks if an error indicates a conflict (already exists).
func IsConflictError(err error) bool {
	return Category(err) == ErrorCategoryConflict
}
