// Copyright © 2025 CloudLens Authors, All Rights reserved

package proxy

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cloudlens/devgate/pkg/metrics"
	"github.com/cloudlens/devgate/pkg/route"
)

// hopHeaders lists standard hop-by-hop headers that must be stripped before a
// request is proxied so the upstream connection semantics remain correct.
var hopHeaders = map[string]struct{}{
	"Connection":          {},
	"Proxy-Connection":    {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

// Forwarder carries requests matching one route rule to its upstream origin.
type Forwarder struct {
	// rule holds the immutable prefix/target mapping this forwarder serves.
	rule *route.Rule
	// client performs outbound HTTP requests with tuned transport settings.
	client *http.Client
	// logger emits structured logs for observability.
	logger zerolog.Logger
}

// New constructs a Forwarder for the given rule backed by an http.Client
// with connection pooling defaults carried over from the transport layer.
// TLS certificate validation against the target follows the rule's Secure
// flag; skipping it is an explicit per-rule opt-out.
func New(rule *route.Rule, requestTimeout time.Duration) *Forwarder {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: !rule.Secure, // nolint:gosec -- opt-in for development upstreams with self-signed certs
		},
	}

	return &Forwarder{
		rule:   rule,
		client: &http.Client{Timeout: requestTimeout, Transport: transport},
		logger: log.With().Str("component", "proxy").Str("route", rule.Prefix).Logger(),
	}
}

// Rule exposes the route rule this forwarder serves.
func (f *Forwarder) Rule() *route.Rule {
	return f.rule
}

// ServeHTTP forwards the request upstream once and streams the response back
// unchanged apart from hop-by-hop headers and redirect/cookie hygiene.
func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	event := f.logger.With().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("remote_addr", r.RemoteAddr).
		Logger()

	resp, err := f.forwardRequest(r)
	if err != nil {
		status := http.StatusBadGateway
		var httpErr *httpError
		if errors.As(err, &httpErr) {
			status = httpErr.Status
		}
		http.Error(w, http.StatusText(status), status)
		metrics.ObserveRequest(f.rule.Prefix, status, time.Since(start))
		event.Error().
			Err(err).
			Dur("duration", time.Since(start)).
			Msg("upstream request failed")
		return
	}

	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			event.Error().
				Err(closeErr).
				Msg("close upstream response body failed")
		}
	}()

	// Default to streaming the upstream body unless we need to inspect errors.
	var bodyReader io.Reader = resp.Body
	if resp.StatusCode >= http.StatusBadRequest {
		const maxLogBody = 64 * 1024 // limit to a manageable payload for logs.
		payload, readErr := io.ReadAll(io.LimitReader(resp.Body, maxLogBody))
		if readErr != nil {
			event.Error().
				Err(readErr).
				Int("status", resp.StatusCode).
				Msg("failed to read upstream error body")
		} else {
			event.Warn().
				Int("status", resp.StatusCode).
				Bytes("upstream_body", payload).
				Msg("upstream returned error")
			// Only the log is capped; the caller still gets the full body.
			bodyReader = io.MultiReader(bytes.NewReader(payload), resp.Body)
		}
	}

	cleanHopHeaders(resp.Header)
	f.rewriteRedirect(resp.Header)
	f.rewriteCookieDomains(resp.Header)
	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	metrics.ObserveRequest(f.rule.Prefix, resp.StatusCode, time.Since(start))

	if _, copyErr := io.Copy(w, bodyReader); copyErr != nil {
		event.Error().
			Err(copyErr).
			Dur("duration", time.Since(start)).
			Msg("stream response failed")
		return
	}

	event.Info().
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("request proxied")
}

// forwardRequest builds the rewritten upstream request and performs the
// single forward attempt, mapping transport failures to gateway statuses.
func (f *Forwarder) forwardRequest(r *http.Request) (*http.Response, error) {
	targetURL := f.rule.UpstreamURL(r.URL)

	upstreamReq, err := http.NewRequestWithContext(r.Context(), r.Method, targetURL.String(), r.Body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	upstreamReq.ContentLength = r.ContentLength

	copyHeaders(upstreamReq.Header, r.Header)
	cleanHopHeaders(upstreamReq.Header)
	augmentForwardHeaders(upstreamReq.Header, r)

	// Many serverless origins validate the Host header; rewrite it to the
	// target host only when the rule asks for it.
	if f.rule.ChangeOrigin {
		upstreamReq.Host = targetURL.Host
	} else {
		upstreamReq.Host = r.Host
	}

	resp, err := f.client.Do(upstreamReq)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, &httpError{Status: http.StatusGatewayTimeout, Err: err}
		default:
			var netErr net.Error
			if errors.As(err, &netErr); netErr != nil && netErr.Timeout() {
				return nil, &httpError{Status: http.StatusGatewayTimeout, Err: err}
			}
		}
		return nil, fmt.Errorf("perform upstream request: %w", err)
	}

	return resp, nil
}

// rewriteRedirect points absolute Location values at the local origin again
// so a redirecting upstream does not bounce the browser out of the dev
// server. The upstream path is folded back under the rule prefix.
func (f *Forwarder) rewriteRedirect(h http.Header) {
	loc := h.Get("Location")
	if loc == "" {
		return
	}

	u, err := url.Parse(loc)
	if err != nil || u.Host == "" || u.Host != f.rule.Target.Host {
		return
	}

	base := strings.TrimSuffix(f.rule.Target.Path, "/")
	path, ok := strings.CutPrefix(u.Path, base)
	if !ok {
		return
	}

	local := &url.URL{
		Path:     f.rule.Prefix + path,
		RawQuery: u.RawQuery,
		Fragment: u.Fragment,
	}
	h.Set("Location", local.String())
}

// rewriteCookieDomains drops Domain attributes that name the upstream host
// so cookies stick to the local origin instead of a domain the browser will
// never match during development.
func (f *Forwarder) rewriteCookieDomains(h http.Header) {
	cookies := h.Values("Set-Cookie")
	if len(cookies) == 0 {
		return
	}

	upstreamHost := f.rule.Target.Hostname()
	rewritten := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts := strings.Split(c, ";")
		kept := parts[:0]
		for _, part := range parts {
			name, value, found := strings.Cut(strings.TrimSpace(part), "=")
			if found && strings.EqualFold(name, "Domain") &&
				strings.EqualFold(strings.TrimPrefix(value, "."), upstreamHost) {
				continue
			}
			kept = append(kept, part)
		}
		rewritten = append(rewritten, strings.Join(kept, ";"))
	}

	h.Del("Set-Cookie")
	for _, c := range rewritten {
		h.Add("Set-Cookie", c)
	}
}

// copyHeaders appends all headers from src into dst.
func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

// cleanHopHeaders removes hop-by-hop headers that should not be forwarded.
func cleanHopHeaders(h http.Header) {
	for k := range hopHeaders {
		h.Del(k)
	}
}

// augmentForwardHeaders ensures X-Forwarded-* headers capture client metadata.
func augmentForwardHeaders(h http.Header, r *http.Request) {
	if clientIP, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		prior := r.Header.Get("X-Forwarded-For")
		if prior != "" {
			clientIP = prior + ", " + clientIP
		}
		h.Set("X-Forwarded-For", clientIP)
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		h.Set("X-Forwarded-Proto", scheme)
	} else {
		h.Set("X-Forwarded-Proto", "http")
	}
	h.Set("X-Forwarded-Host", r.Host)
}

// httpError wraps a status code with the underlying error from the upstream round trip.
type httpError struct {
	Status int   // Status preserves the HTTP status to emit downstream.
	Err    error // Err retains the original cause for logging.
}

// Error implements the error interface for httpError.
func (e *httpError) Error() string {
	return fmt.Sprintf("status %d: %v", e.Status, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As checks.
func (e *httpError) Unwrap() error {
	return e.Err
}
