// Package coordinator implements the startup mode-selection algorithm
// (spec §4.9): a process decides, once, whether it opens the embedded
// backend itself, also serves the HTTP coordinator surface for other
// processes, or only talks to an existing coordinator over HTTP.
package coordinator

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"
)

// Mode is the fixed-for-process-lifetime result of SelectMode.
type Mode string

const (
	// ModeDirect: this process opens the embedded backend itself and
	// relies on WAL for concurrency with any siblings.
	ModeDirect Mode = "direct"
	// ModeHTTPServer: this process owns the embedded backend AND serves
	// the HTTP coordinator surface other local processes federate to.
	ModeHTTPServer Mode = "http_server"
	// ModeHTTPClient: this process uses the HTTP-federated backend
	// pointed at an existing coordinator; it never opens the database.
	ModeHTTPClient Mode = "http_client"
)

// Config is the subset of engine configuration mode selection needs.
type Config struct {
	// FederationEndpoint is the coordinator URL to probe for liveness
	// before falling back to binding a local port. Empty disables the
	// probe, i.e. this process can never become http_client.
	FederationEndpoint string

	// CoordinatorAddr is the host:port this process attempts to bind if
	// it is not already an http_client, e.g. "127.0.0.1:6364".
	CoordinatorAddr string

	// HTTPEnabled gates whether a successful bind becomes http_server
	// (true) or direct (false) — a process with the HTTP surface turned
	// off never becomes a coordinator even if it could bind the port.
	HTTPEnabled bool

	// ProbeTimeout bounds the liveness probe. Default 2s.
	ProbeTimeout time.Duration
}

// Decision is the outcome of SelectMode.
type Decision struct {
	Mode Mode

	// Listener is non-nil only for ModeHTTPServer: the coordinator port
	// bound during selection, handed to the caller so there is no
	// check-then-bind race between deciding and actually serving.
	Listener net.Listener

	// TunedForSingleProcess is true when the process fell back to
	// ModeDirect because the coordinator port could not be bound (spec
	// §4.9 "Failure -> direct with WAL and busy-timeout tuned up") — the
	// caller should apply more conservative WAL/busy-timeout pragmas
	// than a confirmed-solo direct mode would need.
	TunedForSingleProcess bool
}

// SelectMode runs the spec §4.9 algorithm once at startup:
//  1. If cfg.FederationEndpoint answers a liveness probe: http_client.
//  2. Else attempt to bind cfg.CoordinatorAddr:
//     - success: http_server if cfg.HTTPEnabled, else direct.
//     - failure: direct, tuned for contention with whatever already
//       holds that port.
func SelectMode(ctx context.Context, cfg Config) Decision {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}

	if cfg.FederationEndpoint != "" && probeLiveness(ctx, cfg.FederationEndpoint, cfg.ProbeTimeout) {
		log.Printf("coordinator: %s is live, running as http_client", cfg.FederationEndpoint)
		return Decision{Mode: ModeHTTPClient}
	}

	if cfg.CoordinatorAddr == "" {
		return Decision{Mode: ModeDirect}
	}

	ln, err := net.Listen("tcp", cfg.CoordinatorAddr)
	if err != nil {
		log.Printf("coordinator: could not bind %s (%v), running as direct", cfg.CoordinatorAddr, err)
		return Decision{Mode: ModeDirect, TunedForSingleProcess: true}
	}

	if !cfg.HTTPEnabled {
		ln.Close()
		log.Printf("coordinator: bound %s but HTTP surface is disabled, running as direct", cfg.CoordinatorAddr)
		return Decision{Mode: ModeDirect}
	}

	log.Printf("coordinator: bound %s, running as http_server", cfg.CoordinatorAddr)
	return Decision{Mode: ModeHTTPServer, Listener: ln}
}

// probeLiveness issues GET <endpoint>/api/health and reports whether it
// answered 200 within timeout. Any failure (unreachable, timeout,
// non-200) means "not live".
func probeLiveness(ctx context.Context, endpoint string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/api/health", endpoint), nil)
	if err != nil {
		return false
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}
