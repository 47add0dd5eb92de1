// Package retry provides exponential backoff retry functionality.
//
// Callers decide which failures are worth repeating through
// Options.ShouldRetry; everything else is returned after the first call.
//
//	err := retry.Do(ctx, &retry.Config{MaxAttempts: 3}, func(ctx context.Context) error {
//	    return readSecret(ctx)
//	}, &retry.Options{ShouldRetry: isTransient})
package retry
