// Package sipauth implements RFC 7616 Digest Access Authentication for the
// SIP dialog layer (challenge generation on the UAS side, credential
// computation on the UAC side).
package sipauth

import (
	"crypto/md5"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
	"sync"

	"github.com/arzzra/sipstack/pkg/sip/core/errors"
)

// Algorithm names a Digest hash per RFC 7616 §6.1.
type Algorithm string

const (
	AlgorithmMD5           Algorithm = "MD5"
	AlgorithmMD5Sess       Algorithm = "MD5-sess"
	AlgorithmSHA256        Algorithm = "SHA-256"
	AlgorithmSHA256Sess    Algorithm = "SHA-256-sess"
	AlgorithmSHA512_256    Algorithm = "SHA-512-256"
	AlgorithmSHA512_256Sess Algorithm = "SHA-512-256-sess"
)

func (a Algorithm) sessionBased() bool {
	return strings.HasSuffix(string(a), "-sess")
}

func (a Algorithm) newHash() (hash.Hash, error) {
	switch a {
	case AlgorithmMD5, AlgorithmMD5Sess, "":
		return md5.New(), nil
	case AlgorithmSHA256, AlgorithmSHA256Sess:
		return sha256.New(), nil
	case AlgorithmSHA512_256, AlgorithmSHA512_256Sess:
		return sha512.New512_256(), nil
	default:
		return nil, fmt.Errorf("sipauth: unsupported algorithm %q", a)
	}
}

// QOP names the quality-of-protection values RFC 7616 §6.3 defines.
type QOP string

const (
	QOPAuth    QOP = "auth"
	QOPAuthInt QOP = "auth-int"
)

// Challenge is the set of fields a UAS places in a WWW-Authenticate or
// Proxy-Authenticate header to start a Digest exchange.
type Challenge struct {
	Realm     string
	Nonce     string
	Opaque    string
	Domain    string
	Algorithm Algorithm
	QOP       []QOP
	Stale     bool
	UserHash  bool
}

// String renders the challenge as the header-parameter list that follows
// the "Digest " scheme token.
func (c Challenge) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, `realm="%s", nonce="%s"`, c.Realm, c.Nonce)
	if c.Domain != "" {
		fmt.Fprintf(&b, `, domain="%s"`, c.Domain)
	}
	if c.Opaque != "" {
		fmt.Fprintf(&b, `, opaque="%s"`, c.Opaque)
	}
	if c.Stale {
		b.WriteString(`, stale=true`)
	}
	if c.Algorithm != "" {
		fmt.Fprintf(&b, `, algorithm=%s`, c.Algorithm)
	}
	if len(c.QOP) > 0 {
		parts := make([]string, len(c.QOP))
		for i, q := range c.QOP {
			parts[i] = string(q)
		}
		fmt.Fprintf(&b, `, qop="%s"`, strings.Join(parts, ","))
	}
	if c.UserHash {
		b.WriteString(`, userhash=true`)
	}
	return b.String()
}

// Credentials is the set of fields a UAC places in an Authorization or
// Proxy-Authorization header in response to a Challenge.
type Credentials struct {
	Username  string
	Realm     string
	Nonce     string
	URI       string
	Response  string
	Algorithm Algorithm
	CNonce    string
	Opaque    string
	QOP       QOP
	NC        uint32 // nonce-count, rendered as an 8-digit hex string
	UserHash  bool
}

// String renders the credentials as the header-parameter list that follows
// the "Digest " scheme token.
func (c Credentials) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, `username="%s", realm="%s", nonce="%s", uri="%s", response="%s"`,
		c.Username, c.Realm, c.Nonce, c.URI, c.Response)
	if c.Opaque != "" {
		fmt.Fprintf(&b, `, opaque="%s"`, c.Opaque)
	}
	if c.Algorithm != "" {
		fmt.Fprintf(&b, `, algorithm=%s`, c.Algorithm)
	}
	if c.QOP != "" {
		fmt.Fprintf(&b, `, qop=%s, nc=%08x, cnonce="%s"`, c.QOP, c.NC, c.CNonce)
	}
	if c.UserHash {
		b.WriteString(`, userhash=true`)
	}
	return b.String()
}

// CredentialSource resolves a username (within a realm) to the secret used
// to compute A1. Implementations typically look this up from a user store;
// the password is never logged or returned in cleartext by this package.
type CredentialSource interface {
	Password(realm, username string) (string, error)
}

// StaticCredentials is the simplest CredentialSource, a realm+username to
// password map, useful for tests and single-account deployments.
type StaticCredentials map[string]map[string]string

func (s StaticCredentials) Password(realm, username string) (string, error) {
	users, ok := s[realm]
	if !ok {
		return "", errors.NewSIPError(403, "unknown realm", false, false)
	}
	pass, ok := users[username]
	if !ok {
		return "", errors.NewSIPError(403, "unknown user", false, false)
	}
	return pass, nil
}

// Authenticator is the abstract contract the dialog layer programs
// against; DigestAuthenticator is the default RFC 7616 implementation but
// callers may substitute e.g. an OAuth-backed or external-service one.
type Authenticator interface {
	// Challenge builds a fresh Challenge for the given realm.
	Challenge(realm string) Challenge

	// Verify checks the Credentials a UAC supplied against the challenge
	// this authenticator issued with the given nonce, for the given
	// request method and (if qop=auth-int) request body.
	Verify(creds Credentials, method string, body []byte) error

	// Authorize computes the Credentials a UAC should send in response to
	// a Challenge, using the given account's password.
	Authorize(ch Challenge, username, password, method, uri string, body []byte) (Credentials, error)
}

// DigestAuthenticator implements Authenticator per RFC 7616, tracking
// issued nonces so it can detect replay (a nonce-count that does not
// strictly increase) and staleness.
type DigestAuthenticator struct {
	Realm      string
	Algorithm  Algorithm
	QOP        []QOP
	Credential CredentialSource

	mu     sync.Mutex
	nonces map[string]*nonceState

	// uacMu/uacNonces track the client-side nonce-count per challenge
	// nonce so repeated Authorize calls against the same unexpired
	// challenge increment nc instead of restarting at 1, per RFC 7616
	// §3.4.2's requirement that nc strictly increase across requests
	// that reuse a server nonce.
	uacMu     sync.Mutex
	uacNonces map[string]*uacNonceState
}

type nonceState struct {
	lastNC uint32
	stale  bool
}

// uacNonceState is the client-side counterpart to nonceState: the
// cnonce this client picked for a given server nonce (RFC 7616 requires
// the same cnonce across a nonce's nc sequence) and the last nc issued.
type uacNonceState struct {
	cnonce string
	lastNC uint32
}

// NewDigestAuthenticator creates a DigestAuthenticator for the given realm.
// algo and qop default to MD5 and "auth" when left zero-valued, matching
// RFC 7616's backward-compatible defaults.
func NewDigestAuthenticator(realm string, algo Algorithm, qop []QOP, creds CredentialSource) *DigestAuthenticator {
	if algo == "" {
		algo = AlgorithmMD5
	}
	if len(qop) == 0 {
		qop = []QOP{QOPAuth}
	}
	return &DigestAuthenticator{
		Realm:      realm,
		Algorithm:  algo,
		QOP:        qop,
		Credential: creds,
		nonces:     make(map[string]*nonceState),
		uacNonces:  make(map[string]*uacNonceState),
	}
}

func (d *DigestAuthenticator) Challenge(realm string) Challenge {
	nonce := generateNonce()

	d.mu.Lock()
	d.nonces[nonce] = &nonceState{}
	d.mu.Unlock()

	if realm == "" {
		realm = d.Realm
	}
	return Challenge{
		Realm:     realm,
		Nonce:     nonce,
		Algorithm: d.Algorithm,
		QOP:       d.QOP,
	}
}

func (d *DigestAuthenticator) Verify(creds Credentials, method string, body []byte) error {
	d.mu.Lock()
	state, known := d.nonces[creds.Nonce]
	if !known {
		d.mu.Unlock()
		return errors.NewSIPError(401, "unknown or expired nonce", false, false)
	}
	if creds.QOP != "" {
		if creds.NC <= state.lastNC {
			d.mu.Unlock()
			return errors.NewSIPError(401, "stale nonce-count (possible replay)", false, false)
		}
		state.lastNC = creds.NC
	}
	d.mu.Unlock()

	password, err := d.Credential.Password(creds.Realm, creds.Username)
	if err != nil {
		return err
	}

	want, err := computeResponse(creds.Algorithm, creds.Username, creds.Realm, password,
		creds.Nonce, method, creds.URI, body, creds.QOP, creds.CNonce, creds.NC)
	if err != nil {
		return err
	}
	if !strings.EqualFold(want, creds.Response) {
		return errors.NewSIPError(403, "digest response mismatch", false, false)
	}
	return nil
}

func (d *DigestAuthenticator) Authorize(ch Challenge, username, password, method, uri string, body []byte) (Credentials, error) {
	algo := ch.Algorithm
	if algo == "" {
		algo = AlgorithmMD5
	}

	var qop QOP
	if len(ch.QOP) > 0 {
		qop = ch.QOP[0]
		for _, candidate := range ch.QOP {
			if candidate == QOPAuthInt {
				qop = QOPAuthInt // prefer auth-int when the server offers it
				break
			}
		}
	}

	cnonce := ""
	var nc uint32
	if qop != "" {
		d.uacMu.Lock()
		st, known := d.uacNonces[ch.Nonce]
		if !known {
			st = &uacNonceState{cnonce: generateNonce()}
			d.uacNonces[ch.Nonce] = st
		}
		st.lastNC++
		cnonce = st.cnonce
		nc = st.lastNC
		d.uacMu.Unlock()
	}

	response, err := computeResponse(algo, username, ch.Realm, password, ch.Nonce, method, uri, body, qop, cnonce, nc)
	if err != nil {
		return Credentials{}, err
	}

	return Credentials{
		Username:  username,
		Realm:     ch.Realm,
		Nonce:     ch.Nonce,
		URI:       uri,
		Response:  response,
		Algorithm: algo,
		CNonce:    cnonce,
		Opaque:    ch.Opaque,
		QOP:       qop,
		NC:        nc,
		UserHash:  ch.UserHash,
	}, nil
}

// computeResponse implements RFC 7616 §3.4.1's A1/A2/response chain.
func computeResponse(algo Algorithm, username, realm, password, nonce, method, uri string, body []byte, qop QOP, cnonce string, nc uint32) (string, error) {
	h, err := algo.newHash()
	if err != nil {
		return "", err
	}

	a1 := hashHex(h, fmt.Sprintf("%s:%s:%s", username, realm, password))
	if algo.sessionBased() {
		a1 = hashHex(h, fmt.Sprintf("%s:%s:%s", a1, nonce, cnonce))
	}

	var a2 string
	if qop == QOPAuthInt {
		a2 = hashHex(h, fmt.Sprintf("%s:%s:%s", method, uri, hashHex(h, string(body))))
	} else {
		a2 = hashHex(h, fmt.Sprintf("%s:%s", method, uri))
	}

	if qop == "" {
		return hashHex(h, fmt.Sprintf("%s:%s:%s", a1, nonce, a2)), nil
	}
	return hashHex(h, fmt.Sprintf("%s:%s:%08x:%s:%s:%s", a1, nonce, nc, cnonce, qop, a2)), nil
}

func hashHex(h hash.Hash, s string) string {
	h.Reset()
	h.Write([]byte(s))
	return hex.EncodeToString(h.Sum(nil))
}
