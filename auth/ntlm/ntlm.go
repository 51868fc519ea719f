// Package ntlm implements the NTLM SASL mechanism for clients, NTLMv2 only.
// NTLMv1 is considered legacy and is not implemented; servers that only
// offer NTLMv1 are expected to also offer a stronger mechanism.
package ntlm

import (
	"bytes"
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
	"unicode/utf16"

	"golang.org/x/crypto/md4"

	"github.com/outpostmail/mailkit/auth"
)

// Name is the SASL mechanism name used for NTLM over SASL-capable
// protocols (this is a convention, not an IANA-registered SASL name).
const Name = "NTLM"

const (
	negotiateUnicode       = 0x00000001
	negotiateNTLM          = 0x00000200
	negotiateAlwaysSign    = 0x00008000
	negotiateNTLM2Key      = 0x00080000
	negotiateTargetInfo    = 0x00800000
	negotiate128           = 0x20000000
	negotiate56            = 0x80000000
)

var signature = []byte("NTLMSSP\x00")

// ClientMechanism implements the NTLMv2 client handshake: NEGOTIATE,
// parse CHALLENGE, produce AUTHENTICATE.
type ClientMechanism struct {
	Username string
	Password string
	Domain   string
	// Workstation is the client host name sent in the AUTHENTICATE message.
	Workstation string

	step int
}

// Name returns "NTLM".
func (m *ClientMechanism) Name() string { return Name }

// Start returns the NEGOTIATE_MESSAGE.
func (m *ClientMechanism) Start() ([]byte, error) {
	m.step = 1
	return buildNegotiate(m.Domain, m.Workstation), nil
}

// Next processes the CHALLENGE_MESSAGE and returns the AUTHENTICATE_MESSAGE.
func (m *ClientMechanism) Next(challenge []byte) ([]byte, error) {
	if m.step != 1 {
		return nil, fmt.Errorf("ntlm: unexpected challenge")
	}
	m.step = 2

	ch, err := parseChallenge(challenge)
	if err != nil {
		return nil, err
	}

	clientChallenge := make([]byte, 8)
	if _, err := rand.Read(clientChallenge); err != nil {
		return nil, fmt.Errorf("ntlm: generating client challenge: %w", err)
	}

	ntlmHash := ntowfv2(m.Password, m.Username, m.Domain)
	ntProofStr, ntResponse := computeNTv2Response(ntlmHash, ch.serverChallenge, clientChallenge, ch.targetInfo)

	return buildAuthenticate(m.Domain, m.Username, m.Workstation, ntResponse, ntProofStr), nil
}

type challengeMessage struct {
	serverChallenge []byte
	targetInfo      []byte
}

func parseChallenge(b []byte) (*challengeMessage, error) {
	if len(b) < 48 || !bytes.HasPrefix(b, signature) {
		return nil, fmt.Errorf("ntlm: malformed challenge message")
	}
	msgType := binary.LittleEndian.Uint32(b[8:12])
	if msgType != 2 {
		return nil, fmt.Errorf("ntlm: expected type 2 message, got %d", msgType)
	}
	serverChallenge := append([]byte(nil), b[24:32]...)

	targetInfoLen := binary.LittleEndian.Uint16(b[40:42])
	targetInfoOffset := binary.LittleEndian.Uint32(b[44:48])
	var targetInfo []byte
	if int(targetInfoOffset)+int(targetInfoLen) <= len(b) {
		targetInfo = append([]byte(nil), b[targetInfoOffset:targetInfoOffset+uint32(targetInfoLen)]...)
	}
	return &challengeMessage{serverChallenge: serverChallenge, targetInfo: targetInfo}, nil
}

func utf16LE(s string) []byte {
	units := utf16.Encode([]rune(s))
	buf := make([]byte, len(units)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(buf[i*2:], u)
	}
	return buf
}

func md4Sum(b []byte) []byte {
	h := md4.New()
	h.Write(b)
	return h.Sum(nil)
}

func hmacMD5(key, data []byte) []byte {
	h := hmac.New(md5.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// ntowfv2 derives the NTLMv2 key: HMAC-MD5(MD4(UTF16LE(password)),
// UTF16LE(UPPER(username) + domain)).
func ntowfv2(password, username, domain string) []byte {
	ntHash := md4Sum(utf16LE(password))
	identity := utf16LE(strings.ToUpper(username) + domain)
	return hmacMD5(ntHash, identity)
}

// computeNTv2Response builds the NTProofStr and returns it together with
// the full NTv2 response (the proof followed by the client blob).
func computeNTv2Response(ntlmv2Hash, serverChallenge, clientChallenge, targetInfo []byte) (ntProofStr, fullResponse []byte) {
	timestamp := toFileTime(time.Now())

	temp := new(bytes.Buffer)
	temp.Write([]byte{0x01, 0x01, 0x00, 0x00})
	temp.Write([]byte{0x00, 0x00, 0x00, 0x00})
	binary.Write(temp, binary.LittleEndian, timestamp)
	temp.Write(clientChallenge)
	temp.Write([]byte{0x00, 0x00, 0x00, 0x00})
	temp.Write(targetInfo)
	temp.Write([]byte{0x00, 0x00, 0x00, 0x00})

	data := append(append([]byte(nil), serverChallenge...), temp.Bytes()...)
	proof := hmacMD5(ntlmv2Hash, data)

	full := append(append([]byte(nil), proof...), temp.Bytes()...)
	return proof, full
}

func toFileTime(t time.Time) uint64 {
	const epochDiff = 11644473600
	return uint64((t.Unix()+epochDiff)*10000000) + uint64(t.Nanosecond()/100)
}

func buildNegotiate(domain, workstation string) []byte {
	flags := uint32(negotiateUnicode | negotiateNTLM | negotiateNTLM2Key | negotiateAlwaysSign | negotiate128 | negotiate56)

	buf := new(bytes.Buffer)
	buf.Write(signature)
	binary.Write(buf, binary.LittleEndian, uint32(1))
	binary.Write(buf, binary.LittleEndian, flags)
	writeSecBuf(buf, 0, 0, 32) // domain (unset)
	writeSecBuf(buf, 0, 0, 32) // workstation (unset)
	return buf.Bytes()
}

func writeSecBuf(buf *bytes.Buffer, length, offset uint16, absOffset uint32) {
	binary.Write(buf, binary.LittleEndian, length)
	binary.Write(buf, binary.LittleEndian, length)
	binary.Write(buf, binary.LittleEndian, absOffset)
}

func buildAuthenticate(domain, username, workstation string, ntResponse, sessionKeySeed []byte) []byte {
	flags := uint32(negotiateUnicode | negotiateNTLM | negotiateNTLM2Key | negotiateAlwaysSign | negotiate128 | negotiate56)

	domainB := utf16LE(domain)
	userB := utf16LE(username)
	hostB := utf16LE(workstation)

	// header is fixed at 64 bytes, then the variable-length fields follow
	// in the order LM/NT/domain/user/workstation/session-key.
	const headerLen = 64
	offset := uint32(headerLen)

	lmOff := offset
	offset += 24 // empty LMv2 response placeholder
	ntOff := offset
	offset += uint32(len(ntResponse))
	domOff := offset
	offset += uint32(len(domainB))
	userOff := offset
	offset += uint32(len(userB))
	hostOff := offset
	offset += uint32(len(hostB))

	buf := new(bytes.Buffer)
	buf.Write(signature)
	binary.Write(buf, binary.LittleEndian, uint32(3))

	binary.Write(buf, binary.LittleEndian, uint16(24))
	binary.Write(buf, binary.LittleEndian, uint16(24))
	binary.Write(buf, binary.LittleEndian, lmOff)

	binary.Write(buf, binary.LittleEndian, uint16(len(ntResponse)))
	binary.Write(buf, binary.LittleEndian, uint16(len(ntResponse)))
	binary.Write(buf, binary.LittleEndian, ntOff)

	binary.Write(buf, binary.LittleEndian, uint16(len(domainB)))
	binary.Write(buf, binary.LittleEndian, uint16(len(domainB)))
	binary.Write(buf, binary.LittleEndian, domOff)

	binary.Write(buf, binary.LittleEndian, uint16(len(userB)))
	binary.Write(buf, binary.LittleEndian, uint16(len(userB)))
	binary.Write(buf, binary.LittleEndian, userOff)

	binary.Write(buf, binary.LittleEndian, uint16(len(hostB)))
	binary.Write(buf, binary.LittleEndian, uint16(len(hostB)))
	binary.Write(buf, binary.LittleEndian, hostOff)

	binary.Write(buf, binary.LittleEndian, uint16(0))
	binary.Write(buf, binary.LittleEndian, uint16(0))
	binary.Write(buf, binary.LittleEndian, offset)

	binary.Write(buf, binary.LittleEndian, flags)

	buf.Write(make([]byte, 24)) // LMv2 response left empty (NTLMv2-only)
	buf.Write(ntResponse)
	buf.Write(domainB)
	buf.Write(userB)
	buf.Write(hostB)

	return buf.Bytes()
}

func init() {
	auth.DefaultRegistry.RegisterClient(Name, func() auth.ClientMechanism {
		return &ClientMechanism{}
	})
}
