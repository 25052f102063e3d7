package captoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// DefaultTTL is the issuance lifetime when the caller passes none.
// Tokens are deliberately short-lived so a leaked token cannot grant
// lasting access.
const DefaultTTL = 2 * time.Minute

const minSecretBytes = 32

// Payload is the signed content of a token.
type Payload struct {
	Capabilities Set
	ExpiresAt    time.Time
	InviteLink   string
}

// wirePayload is the canonical JSON form. Field order is fixed and caps
// are sorted, so the signed bytes are deterministic.
type wirePayload struct {
	Caps []string `json:"caps"`
	Exp  int64    `json:"exp"`
	Link string   `json:"link"`
}

// Issuer signs and verifies capability tokens with a server-held
// HMAC-SHA256 secret.
type Issuer struct {
	secret []byte
}

// NewIssuer constructs an Issuer. The secret must be at least 32 bytes.
func NewIssuer(secret []byte) (*Issuer, error) {
	if len(secret) < minSecretBytes {
		return nil, ErrSecretTooShort
	}
	return &Issuer{secret: append([]byte(nil), secret...)}, nil
}

// Issue serializes the payload canonically, signs it, and returns
// base64url(payload) + "." + hex(signature).
func (i *Issuer) Issue(caps Set, inviteLink string, ttl time.Duration, now time.Time) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	wp := wirePayload{
		Caps: caps.Strings(),
		Exp:  now.Add(ttl).Unix(),
		Link: inviteLink,
	}
	raw, err := json.Marshal(wp)
	if err != nil {
		return "", err
	}
	sig := i.sign(raw)
	return base64.RawURLEncoding.EncodeToString(raw) + "." + hex.EncodeToString(sig), nil
}

// Verify checks the signature and expiry of a token and returns its
// payload. Every failure collapses to ErrInvalidToken or
// ErrTokenExpired; callers fail closed on either.
func (i *Issuer) Verify(token string, now time.Time) (Payload, error) {
	payloadB64, sigHex, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok {
		return Payload{}, ErrInvalidToken
	}

	raw, err := base64.RawURLEncoding.DecodeString(payloadB64)
	if err != nil {
		return Payload{}, ErrInvalidToken
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return Payload{}, ErrInvalidToken
	}

	// Constant-time comparison; a naive byte compare would leak how
	// many signature bytes matched.
	if !hmac.Equal(sig, i.sign(raw)) {
		return Payload{}, ErrInvalidToken
	}

	var wp wirePayload
	if err := json.Unmarshal(raw, &wp); err != nil {
		return Payload{}, ErrInvalidToken
	}

	exp := time.Unix(wp.Exp, 0)
	if now.After(exp) {
		return Payload{}, ErrTokenExpired
	}

	caps := make(Set, len(wp.Caps))
	for _, s := range wp.Caps {
		c, err := ParseCapability(s)
		if err != nil {
			return Payload{}, ErrInvalidToken
		}
		caps[c] = struct{}{}
	}

	return Payload{Capabilities: caps, ExpiresAt: exp, InviteLink: wp.Link}, nil
}

func (i *Issuer) sign(raw []byte) []byte {
	m := hmac.New(sha256.New, i.secret)
	m.Write(raw)
	return m.Sum(nil)
}
