package ssoerr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

// Kind identifies the category of an SSO failure
type Kind string

const (
	KindConfiguration  Kind = "configuration"
	KindConnection     Kind = "connection"
	KindAuthentication Kind = "authentication"
	KindToken          Kind = "token"
	KindTokenExpired   Kind = "token_expired"
	KindProvisioning   Kind = "provisioning"
	KindUnknown        Kind = "unknown"
)

// Reason narrows a Kind to a specific failure
type Reason string

const (
	ReasonNone                  Reason = ""
	ReasonMissingConfig         Reason = "missing_config"
	ReasonInvalidConfig         Reason = "invalid_config"
	ReasonDisabled              Reason = "disabled"
	ReasonTimeout               Reason = "timeout"
	ReasonUnreachable           Reason = "unreachable"
	ReasonInvalidState          Reason = "invalid_state"
	ReasonAccessDenied          Reason = "access_denied"
	ReasonMissingCode           Reason = "missing_code"
	ReasonRefreshFailed         Reason = "refresh_failed"
	ReasonInvalidToken          Reason = "invalid_token"
	ReasonDuplicateUser         Reason = "duplicate_user"
	ReasonMissingField          Reason = "missing_field"
	ReasonCreationFailed        Reason = "creation_failed"
	ReasonUpdateFailed          Reason = "update_failed"
	ReasonRoleMappingFailed     Reason = "role_mapping_failed"
	ReasonInvalidUserData       Reason = "invalid_user_data"
	ReasonAutoProvisionDisabled Reason = "auto_provision_disabled"
)

// Error is the domain error returned across the SSO core boundary.
// Message never contains credentials or token material.
type Error struct {
	Kind    Kind
	Reason  Reason
	Code    int
	Message string

	// OAuthError is the "error" field returned by the identity provider, if any.
	OAuthError string

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinel errors by kind and, when the sentinel carries one, by reason.
// A token-expired error also matches ErrToken.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Message != "" {
		return false
	}
	kindMatch := t.Kind == e.Kind || (t.Kind == KindToken && e.Kind == KindTokenExpired)
	if !kindMatch {
		return false
	}
	return t.Reason == ReasonNone || t.Reason == e.Reason
}

// Sentinels for use with errors.Is
var (
	ErrConfiguration  = &Error{Kind: KindConfiguration}
	ErrConnection     = &Error{Kind: KindConnection}
	ErrAuthentication = &Error{Kind: KindAuthentication}
	ErrToken          = &Error{Kind: KindToken}
	ErrTokenExpired   = &Error{Kind: KindTokenExpired}
	ErrProvisioning   = &Error{Kind: KindProvisioning}

	ErrInvalidState  = &Error{Kind: KindAuthentication, Reason: ReasonInvalidState}
	ErrDuplicateUser = &Error{Kind: KindProvisioning, Reason: ReasonDuplicateUser}
)

// Configuration errors

func Configuration(message string) *Error {
	return &Error{Kind: KindConfiguration, Code: http.StatusInternalServerError, Message: message}
}

func MissingConfig(key string) *Error {
	return &Error{
		Kind:    KindConfiguration,
		Reason:  ReasonMissingConfig,
		Code:    http.StatusInternalServerError,
		Message: fmt.Sprintf("required SSO configuration key '%s' is missing", key),
	}
}

func InvalidConfig(key, reason string) *Error {
	msg := fmt.Sprintf("SSO configuration key '%s' is invalid", key)
	if reason != "" {
		msg += ": " + reason
	}
	return &Error{Kind: KindConfiguration, Reason: ReasonInvalidConfig, Code: http.StatusInternalServerError, Message: msg}
}

func Disabled() *Error {
	return &Error{Kind: KindConfiguration, Reason: ReasonDisabled, Code: http.StatusInternalServerError, Message: "single sign-on is disabled"}
}

// Connection errors

func Connection(message string, err error) *Error {
	return &Error{Kind: KindConnection, Code: http.StatusServiceUnavailable, Message: message, Err: err}
}

func ConnectionTimeout(err error) *Error {
	return &Error{Kind: KindConnection, Reason: ReasonTimeout, Code: http.StatusGatewayTimeout, Message: "connection to identity provider timed out", Err: err}
}

func ConnectionUnreachable(err error) *Error {
	return &Error{Kind: KindConnection, Reason: ReasonUnreachable, Code: http.StatusServiceUnavailable, Message: "identity provider is unreachable", Err: err}
}

// Authentication errors

func Authentication(message string, err error) *Error {
	return &Error{Kind: KindAuthentication, Code: http.StatusUnauthorized, Message: message, Err: err}
}

// Rejected reports an OAuth error response from the identity provider.
func Rejected(status int, oauthError, description string) *Error {
	if status == 0 {
		status = http.StatusUnauthorized
	}
	msg := "identity provider rejected the request"
	if description != "" {
		msg += ": " + description
	} else if oauthError != "" {
		msg += ": " + oauthError
	}
	e := &Error{Kind: KindAuthentication, Code: status, Message: msg, OAuthError: oauthError}
	if oauthError == "access_denied" {
		e.Reason = ReasonAccessDenied
	}
	return e
}

func InvalidState() *Error {
	return &Error{Kind: KindAuthentication, Reason: ReasonInvalidState, Code: http.StatusUnauthorized, Message: "invalid state"}
}

func MissingCode() *Error {
	return &Error{Kind: KindAuthentication, Reason: ReasonMissingCode, Code: http.StatusBadRequest, Message: "authorization code missing from callback"}
}

// Token errors

func Token(message string, err error) *Error {
	return &Error{Kind: KindToken, Code: http.StatusUnauthorized, Message: message, Err: err}
}

func InvalidToken() *Error {
	return &Error{Kind: KindToken, Reason: ReasonInvalidToken, Code: http.StatusUnauthorized, Message: "access token is invalid"}
}

func RefreshFailed(err error) *Error {
	return &Error{Kind: KindToken, Reason: ReasonRefreshFailed, Code: http.StatusUnauthorized, Message: "refresh failed", Err: err}
}

func TokenExpired(message string, err error) *Error {
	if message == "" {
		message = "token has expired"
	}
	return &Error{Kind: KindTokenExpired, Code: http.StatusUnauthorized, Message: message, Err: err}
}

// Provisioning errors

func DuplicateUser(email string) *Error {
	return &Error{
		Kind:    KindProvisioning,
		Reason:  ReasonDuplicateUser,
		Code:    http.StatusConflict,
		Message: fmt.Sprintf("user with email '%s' already exists with different authentication provider", email),
	}
}

func MissingRequiredField(field string) *Error {
	return &Error{
		Kind:    KindProvisioning,
		Reason:  ReasonMissingField,
		Code:    http.StatusUnprocessableEntity,
		Message: fmt.Sprintf("required user field '%s' is missing from identity claims", field),
	}
}

func CreationFailed(email string, err error) *Error {
	return &Error{Kind: KindProvisioning, Reason: ReasonCreationFailed, Code: http.StatusInternalServerError,
		Message: fmt.Sprintf("failed to create user with email: %s", email), Err: err}
}

func UpdateFailed(email string, err error) *Error {
	return &Error{Kind: KindProvisioning, Reason: ReasonUpdateFailed, Code: http.StatusInternalServerError,
		Message: fmt.Sprintf("failed to update user with email: %s", email), Err: err}
}

func RoleMappingFailed(email string, err error) *Error {
	return &Error{Kind: KindProvisioning, Reason: ReasonRoleMappingFailed, Code: http.StatusInternalServerError,
		Message: fmt.Sprintf("failed to map roles for user: %s", email), Err: err}
}

func InvalidUserData(reason string) *Error {
	return &Error{Kind: KindProvisioning, Reason: ReasonInvalidUserData, Code: http.StatusUnprocessableEntity,
		Message: "invalid user data: " + reason}
}

func AutoProvisionDisabled() *Error {
	return &Error{Kind: KindProvisioning, Reason: ReasonAutoProvisionDisabled, Code: http.StatusForbidden,
		Message: "auto-provisioning disabled"}
}

// Classify maps an arbitrary error onto the taxonomy. Domain errors pass through
// unchanged; transport failures become connection errors.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ConnectionTimeout(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ConnectionTimeout(err)
	}

	var opErr *net.OpError
	var dnsErr *net.DNSError
	var urlErr *url.Error
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) || errors.As(err, &urlErr) {
		return ConnectionUnreachable(err)
	}

	return &Error{Kind: KindUnknown, Code: http.StatusInternalServerError, Message: "unexpected SSO failure", Err: err}
}

// IsRetryable reports whether an operation that failed with err may be attempted again.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	e := Classify(err)
	switch e.Kind {
	case KindConnection:
		return true
	case KindAuthentication, KindToken:
		return e.Code >= http.StatusInternalServerError
	default:
		return false
	}
}

// KindOf returns the kind of err, or KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return Classify(err).Kind
}
