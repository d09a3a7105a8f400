// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenk/backoff"
	"github.com/rs/dnscache"
	circuit "github.com/rubyist/circuitbreaker"
)

// Client is the HTTP client behind the fetcher: a cached-DNS dialer
// plus a per-host circuit breaker. The breaker keeps a registry that
// has gone dark from stalling every subsequent package of an install
// closure on connect attempts; the DNS cache keeps a multi-package
// install from re-resolving the registry host per file.
//
// The client imposes no overall request timeout. Downloads are
// expected to run as long as the transfer takes; the transport-level
// dial and TLS timeouts bound how long a dead host can hang a
// request.
type Client struct {
	httpClient *http.Client

	mu       sync.Mutex
	breakers map[string]*circuit.Breaker
}

// consecutiveFailureTrip is the failure count that opens a host's
// breaker.
const consecutiveFailureTrip = 5

// NewClient builds a client with the cached-DNS transport.
func NewClient() *Client {
	resolver := &dnscache.Resolver{}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			var lastErr error
			for _, ip := range ips {
				conn, dialErr := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
				if dialErr == nil {
					return conn, nil
				}
				lastErr = dialErr
			}
			if lastErr == nil {
				lastErr = fmt.Errorf("no addresses resolved for %s", host)
			}
			return nil, lastErr
		},
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &Client{
		httpClient: &http.Client{Transport: transport},
		breakers:   make(map[string]*circuit.Breaker),
	}
}

// Do executes the request through the host's circuit breaker. An open
// breaker fails immediately with [ErrFetchFailed] without touching
// the network.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	breaker := c.breakerFor(req.URL)

	if !breaker.Ready() {
		return nil, fmt.Errorf("%w: circuit open for host %s", ErrFetchFailed, req.URL.Host)
	}

	var resp *http.Response
	err := breaker.Call(func() error {
		var doErr error
		resp, doErr = c.httpClient.Do(req)
		return doErr
	}, 0)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) breakerFor(u *url.URL) *circuit.Breaker {
	host := u.Host

	c.mu.Lock()
	defer c.mu.Unlock()

	if breaker, ok := c.breakers[host]; ok {
		return breaker
	}

	// The breaker's reset schedule backs off exponentially: a host
	// that keeps failing is probed less and less often.
	resetBackoff := backoff.NewExponentialBackOff()
	resetBackoff.InitialInterval = 10 * time.Second
	resetBackoff.MaxInterval = 2 * time.Minute
	resetBackoff.Reset()

	breaker := circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    resetBackoff,
		ShouldTrip: circuit.ThresholdTripFunc(consecutiveFailureTrip),
	})
	c.breakers[host] = breaker
	return breaker
}
