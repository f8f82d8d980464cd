// Package correlation carries the id that ties the log lines, spans and stored
// report of one unit of work together: an HTTP request or a batch run.
package correlation

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

type key struct{}

// Header is the request/response header holding the correlation id.
const Header = "X-Request-Id"

func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if val, ok := ctx.Value(key{}).(string); ok {
		return val
	}
	return ""
}

func WithID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, key{}, id)
}

// Ensure returns ctx carrying a correlation id. When none is set it mints a
// ULID stamped at now, so batch run ids sort by the scheduler clock.
func Ensure(ctx context.Context, now time.Time) (context.Context, string) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id := ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
	return WithID(ctx, id), id
}

// IssuedAt reports when a ULID correlation id was minted.
func IssuedAt(id string) (time.Time, bool) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(parsed.Time()).UTC(), true
}
