package authcore

import (
	"encoding/base64"
	"net/http"
	"strings"
)

// ErrAuthHeaderAbsent, ErrAuthHeaderMalformed, ErrAuthHeaderBadBase64 are the
// ExtractPayload failure modes.
var (
	ErrAuthHeaderAbsent    = wrapf(ErrAuthenticationRequired, "no Authorization header")
	ErrAuthHeaderMalformed = wrapf(ErrInvalidData, "malformed Authorization header")
	ErrAuthHeaderBadBase64 = wrapf(ErrInvalidData, "invalid base64 in Authorization header")
)

// ScrubBytes is a byte buffer known to hold secret material (a password or a
// raw Authorization payload). Scrub must be called once the buffer is no
// longer needed; it overwrites the memory with zeros before the slice is
// dropped, so no password byte survives past the scrub point.
type ScrubBytes []byte

// Scrub overwrites b with zeros in place.
func (b ScrubBytes) Scrub() {
	for i := range b {
		b[i] = 0
	}
}

// ParseAuthType reads the Authorization header, skips leading spaces, and
// returns the first space-delimited token lowercased. It does not mutate
// headers. If no Authorization header is present at all, the type is
// "negotiate", which lets the helper issue a challenge on first contact.
func ParseAuthType(headers http.Header) string {
	raw := headers.Get("Authorization")
	if raw == "" {
		return "negotiate"
	}
	raw = strings.TrimLeft(raw, " ")
	idx := strings.IndexByte(raw, ' ')
	if idx < 0 {
		return strings.ToLower(raw)
	}
	return strings.ToLower(raw[:idx])
}

// ExtractPayload removes the Authorization entry from headers and returns
// its payload as a ScrubBytes buffer, optionally base64-decoding it first.
// The header map's Authorization value may contain a password, so the
// caller owns the returned buffer and must Scrub it.
func ExtractPayload(headers http.Header, decodeBase64 bool) (ScrubBytes, error) {
	raw := headers.Get("Authorization")
	if raw == "" {
		return nil, ErrAuthHeaderAbsent
	}
	headers.Del("Authorization")

	trimmed := strings.TrimLeft(raw, " ")
	idx := strings.IndexByte(trimmed, ' ')
	if idx < 0 {
		return nil, ErrAuthHeaderMalformed
	}
	rest := strings.TrimLeft(trimmed[idx+1:], " ")

	if !decodeBase64 {
		return ScrubBytes(rest), nil
	}

	decoded, err := base64.StdEncoding.DecodeString(rest)
	if err != nil {
		return nil, ErrAuthHeaderBadBase64
	}
	return ScrubBytes(decoded), nil
}

// ParseApplication derives the application name from a request path: if
// the first path segment is "cockpit+<suffix>" with a non-empty suffix,
// that segment is the application; otherwise the application is "cockpit".
func ParseApplication(path string) string {
	const defaultApp = "cockpit"
	const prefix = defaultApp + "+"

	p := strings.TrimPrefix(path, "/")
	seg := p
	if idx := strings.IndexByte(p, '/'); idx >= 0 {
		seg = p[:idx]
	}
	if strings.HasPrefix(seg, prefix) && len(seg) > len(prefix) {
		return seg
	}
	return defaultApp
}
