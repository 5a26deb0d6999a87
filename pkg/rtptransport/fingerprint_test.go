package rtptransport

import (
	"crypto/x509"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFingerprintAndVerifyRoundTrip(t *testing.T) {
	cert, err := GenerateSelfSigned()
	require.NoError(t, err)

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)

	fp, err := Fingerprint(leaf, "sha-256")
	require.NoError(t, err)
	require.True(t, strings.Contains(fp, ":"))

	verify := verifyFingerprint("sha-256", fp)
	require.NoError(t, verify([][]byte{cert.Certificate[0]}, nil))
}

func TestVerifyFingerprintRejectsMismatch(t *testing.T) {
	cert, err := GenerateSelfSigned()
	require.NoError(t, err)

	verify := verifyFingerprint("sha-256", "00:11:22:33")
	require.Error(t, verify([][]byte{cert.Certificate[0]}, nil))
}

func TestVerifyFingerprintRejectsNoCertificate(t *testing.T) {
	verify := verifyFingerprint("sha-256", "00:11")
	require.Error(t, verify(nil, nil))
}
