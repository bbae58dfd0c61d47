package escalation

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
)

// TokenCodec signs and verifies admin tokens. Tokens are stateless:
// base64url(claims JSON) + "." + base64url(HMAC-SHA256 over the claims).
type TokenCodec struct {
	secret []byte
}

// NewTokenCodec returns a codec using the provided signing secret.
func NewTokenCodec(secret string) *TokenCodec {
	return &TokenCodec{secret: []byte(secret)}
}

// Encode serializes and signs the claims.
func (c *TokenCodec) Encode(claims Claims) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	body := base64.RawURLEncoding.EncodeToString(payload)
	return body + "." + c.sign(payload), nil
}

// Decode verifies the signature and returns the claims. Expiry is not
// checked here; callers decide how stale claims are handled.
func (c *TokenCodec) Decode(token string) (Claims, error) {
	body, sig, ok := strings.Cut(token, ".")
	if !ok {
		return Claims{}, ErrTokenInvalid
	}
	payload, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return Claims{}, ErrTokenInvalid
	}
	if !hmac.Equal([]byte(c.sign(payload)), []byte(sig)) {
		return Claims{}, ErrTokenInvalid
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return Claims{}, ErrTokenInvalid
	}
	return claims, nil
}

func (c *TokenCodec) sign(payload []byte) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write(payload)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
