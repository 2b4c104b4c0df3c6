package llm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrFatalAPI marks an LLM or embedding API error that retrying cannot
// fix: bad credentials, exhausted quota, billing problems. Callers fail
// the job instead of retrying the item.
var ErrFatalAPI = errors.New("fatal API error")

var fatalPatterns = []string{
	"credit balance",
	"rate limit",
	"quota",
	"billing",
	"invalid api key",
	"authentication failed",
	"unauthorized",
	"401",
	"403",
}

// isFatalAPIError reports whether the error message matches a known
// non-retryable API failure.
func isFatalAPIError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range fatalPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// wrapFatalError wraps err with ErrFatalAPI when it matches a fatal
// pattern, otherwise returns it unchanged.
func wrapFatalError(err error) error {
	if err == nil {
		return nil
	}
	if isFatalAPIError(err) {
		return fmt.Errorf("%w: %v", ErrFatalAPI, err)
	}
	return err
}
