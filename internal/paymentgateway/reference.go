package paymentgateway

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateReference builds PREFIX_YYYYmmddHHMMSS_<16 hex>. The random suffix
// carries uniqueness; the unique index on payments.reference is the arbiter.
func GenerateReference(prefix string, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	return prefix + "_" + now.UTC().Format("20060102150405") + "_" + strings.ToUpper(suffix)
}

// ValidSignature reports whether signature is the hex HMAC-SHA512 of payload
// keyed with secret.
func ValidSignature(payload []byte, secret, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	given, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), given)
}

// Sign returns the signature Paystack would send for payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
