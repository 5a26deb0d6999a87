package rtptransport

import (
	"encoding/base64"
	"fmt"
	"net"

	"github.com/pion/srtp/v2"
)

// sdesKeyLen returns the combined master key + salt length for an SDES-
// SRTP crypto suite, RFC 4568 §6.2's table (the same values pkg/sip/sdp's
// negotiate.go uses when choosing a suite).
func sdesKeyLen(suite string) (keyLen, saltLen int, protectionProfile srtp.ProtectionProfile, err error) {
	switch suite {
	case "AES_CM_128_HMAC_SHA1_80":
		return 16, 14, srtp.ProtectionProfileAes128CmHmacSha1_80, nil
	case "AES_CM_128_HMAC_SHA1_32":
		return 16, 14, srtp.ProtectionProfileAes128CmHmacSha1_32, nil
	default:
		return 0, 0, 0, fmt.Errorf("rtptransport: unsupported SDES suite %q", suite)
	}
}

// sdesKeys holds one side's decoded master key and salt, carved out of the
// base64 blob an SDP a=crypto line carries.
type sdesKeys struct {
	masterKey  []byte
	masterSalt []byte
}

// decodeSDESKey splits the base64 inline keying material from a=crypto
// into its master key and salt components.
func decodeSDESKey(suite, keyB64 string) (sdesKeys, error) {
	keyLen, saltLen, _, err := sdesKeyLen(suite)
	if err != nil {
		return sdesKeys{}, err
	}
	raw, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return sdesKeys{}, fmt.Errorf("rtptransport: decode crypto key: %w", err)
	}
	if len(raw) != keyLen+saltLen {
		return sdesKeys{}, fmt.Errorf("rtptransport: crypto key length %d, want %d", len(raw), keyLen+saltLen)
	}
	return sdesKeys{masterKey: raw[:keyLen], masterSalt: raw[keyLen:]}, nil
}

// NewSDESSession builds an SRTP session directly from locally and
// remotely supplied keying material, bypassing any handshake -- this is
// SDES-SRTP's whole point, the keys travel in the signalling channel
// (RFC 4568) instead of being derived from a DTLS handshake.
func NewSDESSession(conn net.Conn, suite string, localKeyB64, remoteKeyB64 string) (*srtp.SessionSRTP, error) {
	_, _, profile, err := sdesKeyLen(suite)
	if err != nil {
		return nil, err
	}
	local, err := decodeSDESKey(suite, localKeyB64)
	if err != nil {
		return nil, fmt.Errorf("rtptransport: local key: %w", err)
	}
	remote, err := decodeSDESKey(suite, remoteKeyB64)
	if err != nil {
		return nil, fmt.Errorf("rtptransport: remote key: %w", err)
	}

	config := &srtp.Config{
		Profile: profile,
		Keys: srtp.SessionKeys{
			LocalMasterKey:   local.masterKey,
			LocalMasterSalt:  local.masterSalt,
			RemoteMasterKey:  remote.masterKey,
			RemoteMasterSalt: remote.masterSalt,
		},
	}

	session, err := srtp.NewSessionSRTP(conn, config)
	if err != nil {
		return nil, fmt.Errorf("rtptransport: new SRTP session: %w", err)
	}
	return session, nil
}
