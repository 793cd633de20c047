package matrix

import (
	"errors"
	"net/url"
	"strconv"

	"github.com/samber/mo"
)

// SyncParameters are the query parameters of one sync call. Every field is
// optional; only present values are sent.
type SyncParameters struct {
	Filter      mo.Option[string]
	Since       mo.Option[string]
	FullState   mo.Option[bool]
	SetPresence mo.Option[SetPresence]
	// Timeout is the long-poll timeout in milliseconds.
	Timeout mo.Option[int]
}

var errNegativeTimeout = errors.New("matrix: sync timeout must not be negative")

// Validate reports parameter values the server would reject.
func (p SyncParameters) Validate() error {
	if timeout, ok := p.Timeout.Get(); ok && timeout < 0 {
		return errNegativeTimeout
	}
	if presence, ok := p.SetPresence.Get(); ok {
		if _, err := presence.MarshalText(); err != nil {
			return err
		}
	}
	return nil
}

// Query encodes the present parameters.
func (p SyncParameters) Query() url.Values {
	query := url.Values{}
	if filter, ok := p.Filter.Get(); ok {
		query.Set("filter", filter)
	}
	if since, ok := p.Since.Get(); ok {
		query.Set("since", since)
	}
	if fullState, ok := p.FullState.Get(); ok {
		query.Set("full_state", strconv.FormatBool(fullState))
	}
	if presence, ok := p.SetPresence.Get(); ok {
		query.Set("set_presence", presence.String())
	}
	if timeout, ok := p.Timeout.Get(); ok {
		query.Set("timeout", strconv.Itoa(timeout))
	}
	return query
}

// WithSince returns a copy of p that resumes from cursor.
func (p SyncParameters) WithSince(cursor string) SyncParameters {
	p.Since = mo.Some(cursor)
	return p
}
