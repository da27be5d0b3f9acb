package square

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// signer checks Square webhook signatures: base64 HMAC-SHA256 over the
// notification URL followed by the raw body.
type signer struct {
	secret          string
	notificationURL string
}

func (s signer) valid(payload []byte, header string) bool {
	return ValidateSignature(payload, s.secret, s.notificationURL, header)
}

// ValidateSignature is the keyed form of Client.VerifySignature.
func ValidateSignature(payload []byte, secret, notificationURL, header string) bool {
	header = strings.TrimSpace(header)
	if header == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(notificationURL))
	mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header))
}
