// Package tunnel abstracts how the server obtains a publicly reachable URL
// for connection strings. A failed tunnel never stops the server; sessions
// just carry the local address instead.
package tunnel

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Tunnel exposes a local listener under a public URL.
type Tunnel interface {
	// Start exposes the local port and returns the public websocket URL.
	Start(localPort int) (string, error)
	// Stop tears the exposure down.
	Stop() error
}

// Static is the no-op tunnel: it formats a URL from a configured host. Used
// when the operator already fronts the server with their own ingress, and as
// the fallback when no tunnel is configured.
type Static struct {
	host   string
	scheme string
	logger zerolog.Logger
}

// NewStatic creates a tunnel that reports ws://host:port (or the host
// verbatim when it already carries a scheme).
func NewStatic(host string, logger zerolog.Logger) *Static {
	return &Static{
		host:   host,
		scheme: "ws",
		logger: logger.With().Str("component", "tunnel").Logger(),
	}
}

// Start reports the static URL; nothing is actually opened.
func (t *Static) Start(localPort int) (string, error) {
	if t.host == "" {
		return fmt.Sprintf("%s://127.0.0.1:%d", t.scheme, localPort), nil
	}
	url := fmt.Sprintf("%s://%s:%d", t.scheme, t.host, localPort)
	t.logger.Info().Str("url", url).Msg("using static public url")
	return url, nil
}

// Stop is a no-op for static tunnels.
func (t *Static) Stop() error {
	return nil
}
