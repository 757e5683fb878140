package intake

import (
	"encoding/base64"
	"net/http"
	"strings"
)

// headerAllowList is the fixed set of request headers retained on stored
// records. An allow-list, not a block-list: anything sensitive
// (Authorization, Cookie, ...) is absent by construction.
var headerAllowList = []string{
	"Accept-Language",
	"Content-Type",
	"Origin",
	"Referer",
	"User-Agent",
	"X-Forwarded-For",
	"X-Forwarded-Proto",
	"X-Real-IP",
}

// encryptedPayloadHeader explicitly marks an inbound payload as encrypted.
// The JWT-shape sniff below exists only as a compatibility fallback for
// clients that predate the header.
const encryptedPayloadHeader = "X-Beacon-Encrypted"

// filterHeaders keeps only allow-listed headers, first value each.
func filterHeaders(h http.Header) map[string]string {
	filtered := make(map[string]string)
	for _, name := range headerAllowList {
		if value := h.Get(name); value != "" {
			filtered[name] = value
		}
	}
	return filtered
}

// clientIPFrom resolves the originating client address: first hop of
// X-Forwarded-For when present, otherwise the transport remote address.
func clientIPFrom(h http.Header, remoteAddr string) string {
	if fwd := h.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if first != "" {
			return first
		}
	}
	if real := h.Get("X-Real-IP"); real != "" {
		return real
	}
	host := remoteAddr
	if idx := strings.LastIndex(remoteAddr, ":"); idx > 0 && !strings.HasSuffix(remoteAddr, "]") {
		host = remoteAddr[:idx]
	}
	return strings.Trim(host, "[]")
}

// inboundEncrypted reports whether the inbound payload arrived encrypted.
// The explicit header is authoritative; absent that, a three-part
// base64url token shape is accepted as a legacy signal.
func inboundEncrypted(h http.Header, body []byte) bool {
	switch strings.ToLower(h.Get(encryptedPayloadHeader)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return looksLikeCompactToken(strings.TrimSpace(string(body)))
}

// looksLikeCompactToken checks for the JWT-like three-segment shape:
// base64url.base64url.base64url with non-empty segments.
func looksLikeCompactToken(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return false
	}
	for _, part := range parts {
		if part == "" {
			return false
		}
		if _, err := base64.RawURLEncoding.DecodeString(part); err != nil {
			return false
		}
	}
	return true
}
