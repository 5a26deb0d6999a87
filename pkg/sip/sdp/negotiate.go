package sdp

import "fmt"

// intersectCodecs returns the first locally-preferred codec the remote
// side also offered, matched by encoding name and clock rate (payload type
// numbers are local to each side and may legitimately differ, spec.md
// §4.6: "the remote PT is what we must send to the remote, and the local
// PT is what we accept inbound"). Returns a copy carrying the remote's
// payload type so callers know what to stamp on outbound RTP.
func intersectCodecs(local, remote []Codec) *Codec {
	for _, l := range local {
		for _, r := range remote {
			if sameEncoding(l, r) {
				chosen := l
				chosen.PayloadType = r.PayloadType // what we send to the remote
				return &chosen
			}
		}
	}
	return nil
}

func sameEncoding(a, b Codec) bool {
	return equalFoldASCII(a.Name, b.Name) && a.ClockRate == b.ClockRate &&
		(a.Channels == b.Channels || a.Channels == 0 || b.Channels == 0)
}

func equalFoldASCII(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// intersectExtensions keeps only header extensions both sides named by
// URI, using the local extmap id (ids are per-endpoint in RFC 8285, not
// shared).
func intersectExtensions(local, remote []Extension) []Extension {
	var out []Extension
	for _, l := range local {
		for _, r := range remote {
			if l.URI == r.URI {
				out = append(out, l)
				break
			}
		}
	}
	return out
}

// chooseCrypto picks the first offered SDES-SRTP crypto line with a suite
// this stack implements, per spec.md §4.6 ("the answerer picks exactly one
// tag"). Only AES_CM_128_HMAC_SHA1_80/32 are recognised; anything else is
// skipped rather than rejecting the whole negotiation, matching how a real
// answerer tolerates a mixed suite list.
func chooseCrypto(offered []Crypto) (Crypto, error) {
	for _, c := range offered {
		switch c.Suite {
		case "AES_CM_128_HMAC_SHA1_80", "AES_CM_128_HMAC_SHA1_32":
			if len(c.KeyingMaterials) > 0 {
				return c, nil
			}
		}
	}
	return Crypto{}, fmt.Errorf("sdp: no common SDES-SRTP suite")
}

// cryptoSuiteKeyLen returns the combined key+salt length in bytes for a
// suite name, RFC 4568 §6.2.
func cryptoSuiteKeyLen(suite string) (int, bool) {
	switch suite {
	case "AES_CM_128_HMAC_SHA1_80", "AES_CM_128_HMAC_SHA1_32":
		return 30, true // 16-byte key + 14-byte salt
	case "AES_CM_256_HMAC_SHA1_80", "AES_CM_256_HMAC_SHA1_32":
		return 46, true // 32-byte key + 14-byte salt
	default:
		return 0, false
	}
}
