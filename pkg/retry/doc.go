// Package retry runs transient-failure-prone operations with bounded retries,
// exponential backoff and symmetric jitter.
//
// The delay before retry n is InitialDelay * BackoffMultiplier^(n-1),
// randomized by ±Jitter and capped at MaxDelay. Errors rejected by the
// Retryable predicate stop the loop immediately. When attempts run out the
// error from the last attempt is returned as-is, never wrapped:
//
//	exec := retry.New(retry.Config{MaxAttempts: 3, InitialDelay: time.Second},
//		retry.WithRetryable(ssoerr.IsRetryable))
//	tokens, err := retry.Run(ctx, exec, "exchange_code", func(ctx context.Context) (*sso.TokenSet, error) {
//		return client.ExchangeCode(ctx, code)
//	})
package retry
