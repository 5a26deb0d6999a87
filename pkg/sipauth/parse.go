package sipauth

import (
	"fmt"
	"strconv"
	"strings"
)

// parseParams splits a Digest header's parameter list ("k1=v1, k2=\"v2\"")
// into a map, stripping quotes. It tolerates the field ordering freedom
// RFC 7616 §6.3 allows.
func parseParams(s string) map[string]string {
	out := make(map[string]string)
	for _, part := range splitParams(s) {
		eq := strings.Index(part, "=")
		if eq == -1 {
			continue
		}
		key := strings.TrimSpace(part[:eq])
		val := strings.TrimSpace(part[eq+1:])
		val = strings.Trim(val, `"`)
		out[strings.ToLower(key)] = val
	}
	return out
}

// splitParams splits on commas that are not inside a quoted string.
func splitParams(s string) []string {
	var parts []string
	var cur strings.Builder
	inQuotes := false
	for _, r := range s {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			cur.WriteRune(r)
		case r == ',' && !inQuotes:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}

func stripScheme(header string) string {
	header = strings.TrimSpace(header)
	if idx := strings.IndexByte(header, ' '); idx != -1 && strings.EqualFold(header[:idx], "Digest") {
		return header[idx+1:]
	}
	return header
}

// ParseChallenge parses a WWW-Authenticate or Proxy-Authenticate header
// value (with or without the leading "Digest " scheme token) into a
// Challenge.
func ParseChallenge(header string) (Challenge, error) {
	p := parseParams(stripScheme(header))
	if p["realm"] == "" || p["nonce"] == "" {
		return Challenge{}, fmt.Errorf("sipauth: challenge missing realm or nonce")
	}

	ch := Challenge{
		Realm:     p["realm"],
		Nonce:     p["nonce"],
		Opaque:    p["opaque"],
		Domain:    p["domain"],
		Algorithm: Algorithm(p["algorithm"]),
		Stale:     strings.EqualFold(p["stale"], "true"),
		UserHash:  strings.EqualFold(p["userhash"], "true"),
	}
	if qop, ok := p["qop"]; ok {
		for _, v := range strings.Split(qop, ",") {
			ch.QOP = append(ch.QOP, QOP(strings.TrimSpace(v)))
		}
	}
	return ch, nil
}

// ParseCredentials parses an Authorization or Proxy-Authorization header
// value (with or without the leading "Digest " scheme token) into
// Credentials.
func ParseCredentials(header string) (Credentials, error) {
	p := parseParams(stripScheme(header))
	for _, required := range []string{"username", "realm", "nonce", "uri", "response"} {
		if p[required] == "" {
			return Credentials{}, fmt.Errorf("sipauth: credentials missing %q", required)
		}
	}

	creds := Credentials{
		Username:  p["username"],
		Realm:     p["realm"],
		Nonce:     p["nonce"],
		URI:       p["uri"],
		Response:  p["response"],
		Algorithm: Algorithm(p["algorithm"]),
		CNonce:    p["cnonce"],
		Opaque:    p["opaque"],
		QOP:       QOP(p["qop"]),
		UserHash:  strings.EqualFold(p["userhash"], "true"),
	}
	if nc, ok := p["nc"]; ok {
		v, err := strconv.ParseUint(nc, 16, 32)
		if err != nil {
			return Credentials{}, fmt.Errorf("sipauth: invalid nc %q: %w", nc, err)
		}
		creds.NC = uint32(v)
	}
	return creds, nil
}
