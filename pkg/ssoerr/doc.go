// Package ssoerr defines the error taxonomy shared by the SSO core.
//
// Every failure that crosses the core boundary is an *Error carrying a Kind
// (configuration, connection, authentication, token, token_expired,
// provisioning), an optional Reason and an HTTP-style status code. Use
// errors.Is against the package sentinels to branch on a kind:
//
//	if errors.Is(err, ssoerr.ErrConnection) {
//		// identity provider unreachable
//	}
//
// Classify maps transport failures onto the taxonomy, IsRetryable drives the
// retry executor, and UserMessage produces text that is safe to show users.
package ssoerr
