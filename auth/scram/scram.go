// Package scram implements the SCRAM family of SASL mechanisms (RFC 5802,
// RFC 7677) for clients, including the channel-binding "-PLUS" variants
// (RFC 5929, RFC 9266).
package scram

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"hash"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/outpostmail/mailkit/auth"
)

// Mechanism names.
const (
	NameSHA1        = "SCRAM-SHA-1"
	NameSHA1Plus    = "SCRAM-SHA-1-PLUS"
	NameSHA256      = "SCRAM-SHA-256"
	NameSHA256Plus  = "SCRAM-SHA-256-PLUS"
)

// ClientMechanism implements a SCRAM client for a specific hash algorithm.
// Binder is optional; when set and Plus is true, the mechanism binds to the
// transport's TLS channel binding data.
type ClientMechanism struct {
	Username string
	Password string
	Hash     func() hash.Hash
	Plus     bool
	Binder   auth.ChannelBinder

	name         string
	clientNonce  string
	clientFirst  string // the "n=...,r=..." part, without gs2 header
	gs2Header    string
	serverSig    []byte
	step         int
}

// NewSHA256 returns a SCRAM-SHA-256 client mechanism.
func NewSHA256(username, password string) *ClientMechanism {
	return &ClientMechanism{Username: username, Password: password, Hash: sha256.New, name: NameSHA256}
}

// NewSHA1 returns a SCRAM-SHA-1 client mechanism.
func NewSHA1(username, password string) *ClientMechanism {
	return &ClientMechanism{Username: username, Password: password, Hash: sha1.New, name: NameSHA1}
}

// NewSHA256Plus returns a channel-binding SCRAM-SHA-256-PLUS client mechanism.
func NewSHA256Plus(username, password string, binder auth.ChannelBinder) *ClientMechanism {
	return &ClientMechanism{Username: username, Password: password, Hash: sha256.New, Plus: true, Binder: binder, name: NameSHA256Plus}
}

// Name returns the mechanism name.
func (m *ClientMechanism) Name() string {
	if m.name != "" {
		return m.name
	}
	if m.Plus {
		return NameSHA256Plus
	}
	return NameSHA256
}

func escapeName(s string) string {
	s = strings.ReplaceAll(s, "=", "=3D")
	s = strings.ReplaceAll(s, ",", "=2C")
	return s
}

// Start builds the GS2 header and client-first-message.
func (m *ClientMechanism) Start() ([]byte, error) {
	nonce := make([]byte, 18)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("scram: generating nonce: %w", err)
	}
	m.clientNonce = base64.StdEncoding.EncodeToString(nonce)

	switch {
	case m.Plus:
		if m.Binder == nil {
			return nil, fmt.Errorf("scram: %s requires a channel binder", m.Name())
		}
		cbName, _, ok := m.Binder.ChannelBindingData()
		if !ok {
			return nil, fmt.Errorf("scram: no channel binding data available")
		}
		m.gs2Header = "p=" + cbName + ",,"
	default:
		// "y" announces client support for channel binding while not using
		// it on this connection; "n" is used when the binder is absent.
		if m.Binder != nil {
			m.gs2Header = "y,,"
		} else {
			m.gs2Header = "n,,"
		}
	}

	m.clientFirst = fmt.Sprintf("n=%s,r=%s", escapeName(m.Username), m.clientNonce)
	m.step = 1
	return []byte(m.gs2Header + m.clientFirst), nil
}

// Next processes a server challenge and returns the client response.
func (m *ClientMechanism) Next(challenge []byte) ([]byte, error) {
	switch m.step {
	case 1:
		return m.handleServerFirst(challenge)
	case 2:
		return m.handleServerFinal(challenge)
	default:
		return nil, fmt.Errorf("scram: unexpected challenge at step %d", m.step)
	}
}

func (m *ClientMechanism) handleServerFirst(challenge []byte) ([]byte, error) {
	fields, err := parseFields(string(challenge))
	if err != nil {
		return nil, err
	}
	serverNonce, ok := fields["r"]
	if !ok || !strings.HasPrefix(serverNonce, m.clientNonce) {
		return nil, fmt.Errorf("scram: server nonce does not extend client nonce")
	}
	saltB64, ok := fields["s"]
	if !ok {
		return nil, fmt.Errorf("scram: missing salt")
	}
	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		return nil, fmt.Errorf("scram: invalid salt: %w", err)
	}
	iterStr, ok := fields["i"]
	if !ok {
		return nil, fmt.Errorf("scram: missing iteration count")
	}
	iterations, err := strconv.Atoi(iterStr)
	if err != nil || iterations <= 0 {
		return nil, fmt.Errorf("scram: invalid iteration count %q", iterStr)
	}

	var cbindData []byte
	gs2b64 := base64.StdEncoding.EncodeToString([]byte(m.gs2Header))
	if m.Plus {
		_, data, ok := m.Binder.ChannelBindingData()
		if !ok {
			return nil, fmt.Errorf("scram: channel binding data became unavailable")
		}
		cbindData = []byte(m.gs2Header)
		cbindData = append(cbindData, data...)
		gs2b64 = base64.StdEncoding.EncodeToString(cbindData)
	}

	channelBinding := "c=" + gs2b64
	clientFinalNoProof := channelBinding + ",r=" + serverNonce

	saltedPassword := pbkdf2.Key([]byte(m.Password), salt, iterations, m.Hash().Size(), m.Hash)
	clientKey := hmacSum(m.Hash, saltedPassword, []byte("Client Key"))
	storedKey := hashSum(m.Hash, clientKey)

	authMessage := m.clientFirst + "," + string(challenge) + "," + clientFinalNoProof

	clientSignature := hmacSum(m.Hash, storedKey, []byte(authMessage))
	clientProof := xorBytes(clientKey, clientSignature)

	serverKey := hmacSum(m.Hash, saltedPassword, []byte("Server Key"))
	m.serverSig = hmacSum(m.Hash, serverKey, []byte(authMessage))

	clientFinal := clientFinalNoProof + ",p=" + base64.StdEncoding.EncodeToString(clientProof)
	m.step = 2
	return []byte(clientFinal), nil
}

func (m *ClientMechanism) handleServerFinal(challenge []byte) ([]byte, error) {
	fields, err := parseFields(string(challenge))
	if err != nil {
		return nil, err
	}
	if errMsg, ok := fields["e"]; ok {
		return nil, fmt.Errorf("scram: server reported error: %s", errMsg)
	}
	sigB64, ok := fields["v"]
	if !ok {
		return nil, fmt.Errorf("scram: missing server signature")
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return nil, fmt.Errorf("scram: invalid server signature encoding: %w", err)
	}
	if !hmac.Equal(sig, m.serverSig) {
		return nil, fmt.Errorf("scram: server signature mismatch")
	}
	m.step = 3
	return nil, nil
}

func parseFields(s string) (map[string]string, error) {
	fields := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("scram: malformed attribute %q", part)
		}
		fields[kv[0]] = kv[1]
	}
	return fields, nil
}

func hmacSum(h func() hash.Hash, key, data []byte) []byte {
	mac := hmac.New(h, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func hashSum(h func() hash.Hash, data []byte) []byte {
	d := h()
	d.Write(data)
	return d.Sum(nil)
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}

func init() {
	auth.DefaultRegistry.RegisterClient(NameSHA1, func() auth.ClientMechanism {
		return &ClientMechanism{Hash: sha1.New, name: NameSHA1}
	})
	auth.DefaultRegistry.RegisterClient(NameSHA256, func() auth.ClientMechanism {
		return &ClientMechanism{Hash: sha256.New, name: NameSHA256}
	})
}
