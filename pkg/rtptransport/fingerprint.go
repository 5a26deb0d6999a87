package rtptransport

import (
	"crypto/sha256"
	"crypto/sha512"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
)

// Fingerprint computes the certificate fingerprint an SDP a=fingerprint
// line carries (RFC 8122 §5), colon-separated uppercase hex.
func Fingerprint(cert *x509.Certificate, hashFunc string) (string, error) {
	h, err := fingerprintHash(hashFunc)
	if err != nil {
		return "", err
	}
	h.Write(cert.Raw)
	sum := h.Sum(nil)

	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = strings.ToUpper(hex.EncodeToString([]byte{b}))
	}
	return strings.Join(parts, ":"), nil
}

func fingerprintHash(name string) (hash.Hash, error) {
	switch strings.ToLower(name) {
	case "sha-256", "":
		return sha256.New(), nil
	case "sha-384":
		return sha512.New384(), nil
	case "sha-512":
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("rtptransport: unsupported fingerprint hash %q", name)
	}
}

// verifyFingerprint returns a tls.Config-style VerifyPeerCertificate
// callback that checks the peer's leaf certificate matches the
// fingerprint negotiated out-of-band over SDP, which is DTLS-SRTP's trust
// anchor instead of a CA chain (RFC 5763 §5).
func verifyFingerprint(hashFunc, want string) func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("rtptransport: peer presented no certificate")
		}
		cert, err := x509.ParseCertificate(rawCerts[0])
		if err != nil {
			return fmt.Errorf("rtptransport: parse peer certificate: %w", err)
		}
		got, err := Fingerprint(cert, hashFunc)
		if err != nil {
			return err
		}
		if !strings.EqualFold(got, want) {
			return fmt.Errorf("rtptransport: fingerprint mismatch: got %s want %s", got, want)
		}
		return nil
	}
}

// GenerateSelfSigned builds the self-signed certificate DTLS-SRTP uses in
// place of a CA-issued one (RFC 8827 §6.3: identity rests on the SDP
// fingerprint, not the certificate's signer).
func GenerateSelfSigned() (tls.Certificate, error) {
	return generateSelfSignedCertificate()
}
