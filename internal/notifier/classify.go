package notifier

import (
	"errors"
	"regexp"

	kit "feedbot/internal/transport"
)

var (
	reUnauthorized = regexp.MustCompile(`Unauthorized`)
	reNotFound     = regexp.MustCompile(`not found`)
	reBlocked      = regexp.MustCompile(`kicked|blocked|deactivated`)
	reRateLimited  = regexp.MustCompile(`(?i)too many requests|retry after|timeout`)
)

// Classify maps a send error to its failure category. Only structured API
// errors (kit.SendError) are matched against the description; anything else
// never reached the API and is a network failure.
func Classify(err error) Category {
	if err == nil {
		return CategoryNone
	}
	var se *kit.SendError
	if !errors.As(err, &se) {
		return CategoryNetwork
	}
	d := se.Description
	switch {
	case reUnauthorized.MatchString(d) || se.Code == 401:
		return CategoryUnauthorized
	case reNotFound.MatchString(d):
		return CategoryNotFound
	case reBlocked.MatchString(d):
		return CategoryBlocked
	case reRateLimited.MatchString(d) || se.Code == 429:
		return CategoryRateLimited
	default:
		return CategoryTransport
	}
}

func retryAfter(err error) int {
	var se *kit.SendError
	if errors.As(err, &se) {
		return se.RetryAfter
	}
	return 0
}
