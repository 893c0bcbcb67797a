// Copyright © 2025 CloudLens Authors, All Rights reserved

// Package proxy provides the forwarder that carries dashboard API calls to
// the remote scan service during local development. Each route rule gets its
// own forwarder with a dedicated HTTP client; requests are streamed through
// with a single attempt and transport failures surface as gateway errors.
package proxy
