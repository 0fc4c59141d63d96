package ssoerr

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/platinummonkey/ssobridge/pkg/observability"
)

const (
	msgConnectionFailed      = "Unable to connect to authentication server. Please try again later."
	msgConnectionTimeout     = "Connection to authentication server timed out. Please check your internet connection and try again."
	msgConnectionUnreachable = "Authentication server is currently unreachable. Please contact your administrator if the problem persists."

	msgAuthFailed       = "Authentication failed. Please check your credentials and try again."
	msgAuthAccessDenied = "Access denied. You do not have permission to access this application."
	msgAuthInvalidState = "Invalid authentication state. This may be due to an expired session. Please try again."

	msgTokenExpired       = "Your session has expired. Please log in again."
	msgTokenInvalid       = "Invalid authentication token. Please log in again."
	msgTokenRefreshFailed = "Failed to refresh your session. Please log in again."

	msgProvisioningFailed   = "Failed to set up your account. Please contact your administrator."
	msgProvisioningCreate   = "Could not create your user account. Please contact your administrator."
	msgProvisioningUpdate   = "Failed to update your account information. Please try again later."
	msgProvisioningEmail    = "Email address is required but was not provided by the authentication server."
	msgProvisioningDup      = "An account with this email already exists with a different authentication method."
	msgProvisioningRoles    = "Failed to assign proper permissions to your account. Please contact your administrator."
	msgProvisioningDisabled = "No account exists for this identity and automatic account creation is disabled. Please contact your administrator."

	msgConfigInvalid  = "Authentication system is not properly configured. Please contact your administrator."
	msgConfigMissing  = "Required configuration is missing. Please contact your administrator."
	msgConfigDisabled = "Single Sign-On authentication is currently disabled."

	msgUnknown = "An unexpected error occurred. Please try again or contact your administrator if the problem persists."

	// FallbackUnavailable is shown when the identity provider cannot be reached
	// and local authentication remains available.
	FallbackUnavailable = "Single Sign-On service is temporarily unavailable. You can still log in with your local credentials."
	// FallbackLocalAuth is shown for any other failure when local authentication remains available.
	FallbackLocalAuth = "Single Sign-On is unavailable. Using local authentication instead."
)

var reasonMessages = map[Reason]string{
	ReasonMissingConfig:         msgConfigMissing,
	ReasonDisabled:              msgConfigDisabled,
	ReasonTimeout:               msgConnectionTimeout,
	ReasonUnreachable:           msgConnectionUnreachable,
	ReasonInvalidState:          msgAuthInvalidState,
	ReasonAccessDenied:          msgAuthAccessDenied,
	ReasonRefreshFailed:         msgTokenRefreshFailed,
	ReasonInvalidToken:          msgTokenInvalid,
	ReasonDuplicateUser:         msgProvisioningDup,
	ReasonCreationFailed:        msgProvisioningCreate,
	ReasonUpdateFailed:          msgProvisioningUpdate,
	ReasonRoleMappingFailed:     msgProvisioningRoles,
	ReasonAutoProvisionDisabled: msgProvisioningDisabled,
}

var kindMessages = map[Kind]string{
	KindConfiguration:  msgConfigInvalid,
	KindConnection:     msgConnectionFailed,
	KindAuthentication: msgAuthFailed,
	KindToken:          msgTokenInvalid,
	KindTokenExpired:   msgTokenExpired,
	KindProvisioning:   msgProvisioningFailed,
}

// UserMessage returns text safe to show an end user. The internal error message
// is never included; showDetails appends only the kind and code.
func UserMessage(err error, showDetails bool) string {
	if err == nil {
		return ""
	}
	e := Classify(err)

	msg := messageFor(e)
	if showDetails {
		msg += fmt.Sprintf("\n\nError kind: %s", e.Kind)
		if e.Code != 0 {
			msg += fmt.Sprintf("\nError code: %d", e.Code)
		}
	}
	return msg
}

func messageFor(e *Error) string {
	if e.Reason == ReasonMissingField {
		if strings.Contains(e.Message, "'email'") {
			return msgProvisioningEmail
		}
		return msgProvisioningFailed
	}
	if m, ok := reasonMessages[e.Reason]; ok {
		return m
	}
	if m, ok := kindMessages[e.Kind]; ok {
		return m
	}

	lower := strings.ToLower(e.Error())
	switch {
	case strings.Contains(lower, "timeout"):
		return msgConnectionTimeout
	case strings.Contains(lower, "unreachable"), strings.Contains(lower, "connection refused"):
		return msgConnectionUnreachable
	case strings.Contains(lower, "expired"):
		return msgTokenExpired
	case strings.Contains(lower, "access denied"), strings.Contains(lower, "forbidden"):
		return msgAuthAccessDenied
	}
	return msgUnknown
}

// Severity returns the log level an error should be reported at.
func Severity(err error) observability.LogLevel {
	e := Classify(err)
	if e == nil {
		return observability.InfoLevel
	}
	switch e.Kind {
	case KindConfiguration:
		return observability.CriticalLevel
	case KindConnection:
		return observability.WarnLevel
	}
	switch {
	case e.Code >= http.StatusInternalServerError:
		return observability.ErrorLevel
	case e.Code >= http.StatusBadRequest:
		return observability.WarnLevel
	}
	return observability.ErrorLevel
}

// FallbackNotice returns the notice shown alongside a failure when local
// authentication is still offered.
func FallbackNotice(err error) string {
	if KindOf(err) == KindConnection {
		return FallbackUnavailable
	}
	return FallbackLocalAuth
}
