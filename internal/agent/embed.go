package agent

import (
	"errors"
	"net/url"
	"strconv"
)

// DefaultEndpoint is used when neither the options nor the script URL name an
// ingestion endpoint.
const DefaultEndpoint = "http://localhost:3000/x/api/v1/events"

// ErrMissingCredential is returned when no site credential could be resolved.
var ErrMissingCredential = errors.New("agent: site credential is required")

// Options is the embed-time configuration surface. Explicit values always win
// over values carried on the loader script URL.
type Options struct {
	Credential string
	Endpoint   string
	Debug      bool
}

// ResolveOptions merges explicit options with the query parameters of the
// loader script URL (key, api, debug), explicit values taking precedence.
// Initialization fails when no credential is present from either source.
func ResolveOptions(explicit Options, scriptURL string) (Options, error) {
	opts := explicit

	if scriptURL != "" {
		if u, err := url.Parse(scriptURL); err == nil {
			q := u.Query()
			if opts.Credential == "" {
				opts.Credential = q.Get("key")
			}
			if opts.Endpoint == "" {
				opts.Endpoint = q.Get("api")
			}
			if !opts.Debug {
				opts.Debug, _ = strconv.ParseBool(q.Get("debug"))
			}
		}
	}

	if opts.Credential == "" {
		return Options{}, ErrMissingCredential
	}
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	return opts, nil
}
