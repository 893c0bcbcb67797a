// Copyright © 2025 CloudLens Authors, All Rights reserved

// Package route defines the static rules that map local path prefixes to
// remote scan-service origins. A rule is built once from configuration and
// never mutated afterwards; the match and rewrite operations are pure.
package route

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Rule maps a literal path prefix to an upstream origin.
type Rule struct {
	// Prefix is the literal path prefix that activates the rule, e.g. "/api".
	Prefix string
	// Target is the absolute origin matching requests are forwarded to.
	Target *url.URL
	// ChangeOrigin rewrites the outbound Host header to Target's host.
	ChangeOrigin bool
	// Secure enforces TLS certificate validation against Target.
	Secure bool
}

// New parses and validates a rule. The target must be an absolute http(s)
// URL and the prefix must be non-empty and begin with a slash.
func New(prefix, target string, changeOrigin, secure bool) (*Rule, error) {
	if prefix == "" || !strings.HasPrefix(prefix, "/") {
		return nil, fmt.Errorf("rule prefix %q must begin with /", prefix)
	}

	u, err := url.Parse(strings.TrimSpace(target))
	if err != nil {
		return nil, fmt.Errorf("invalid rule target: %w", err)
	}
	if !u.IsAbs() {
		return nil, errors.New("rule target must be absolute (scheme://host)")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("rule target scheme %q is not http or https", u.Scheme)
	}

	return &Rule{
		Prefix:       prefix,
		Target:       u,
		ChangeOrigin: changeOrigin,
		Secure:       secure,
	}, nil
}

// Matches reports whether the rule intercepts the given request path.
// Matching is a literal prefix compare.
func (r *Rule) Matches(path string) bool {
	return strings.HasPrefix(path, r.Prefix)
}

// Rewrite strips the prefix from the path exactly once. "/api/scan" becomes
// "/scan" and "/api" becomes "" (the upstream root). Non-matching paths are
// returned unchanged.
func (r *Rule) Rewrite(path string) string {
	return strings.TrimPrefix(path, r.Prefix)
}

// UpstreamURL resolves an inbound request URL against the rule's target:
// the prefix is stripped, the remainder is joined to the target path with a
// single slash, and the query string is carried over untouched. When the
// inbound URL carries a RawPath, the encoded form is rewritten the same way
// so percent-encoded segments (e.g. %2F) survive the forward.
func (r *Rule) UpstreamURL(requestURL *url.URL) *url.URL {
	out := *r.Target
	out.Path = singleJoiningSlash(r.Target.Path, r.Rewrite(requestURL.Path))
	out.RawPath = ""
	if requestURL.RawPath != "" {
		out.RawPath = singleJoiningSlash(r.Target.EscapedPath(), strings.TrimPrefix(requestURL.RawPath, r.Prefix))
	}
	out.RawQuery = requestURL.RawQuery
	return &out
}

// singleJoiningSlash joins two path segments with exactly one slash between
// them, tolerating trailing/leading slashes on either side.
func singleJoiningSlash(a, b string) string {
	if b == "" {
		if a == "" {
			return "/"
		}
		return a
	}
	aSlash := strings.HasSuffix(a, "/")
	bSlash := strings.HasPrefix(b, "/")
	switch {
	case aSlash && bSlash:
		return a + b[1:]
	case !aSlash && !bSlash:
		return a + "/" + b
	}
	return a + b
}
