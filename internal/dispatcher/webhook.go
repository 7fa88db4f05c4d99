package dispatcher

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/jmehdipour/wadispatch/internal/logger"
)

const signaturePrefix = "sha256="

// VerifySignature checks an X-Hub-Signature-256 header against the raw
// request body.
//
// Without a configured app secret every signature is accepted. Deployments
// that receive webhooks must set one.
func (c *WhatsAppClient) VerifySignature(rawBody []byte, header string) bool {
	return VerifySignature(c.appSecret, rawBody, header)
}

func VerifySignature(secret, rawBody []byte, header string) bool {
	if len(secret) == 0 {
		logger.Log.Warn("whatsapp app secret not set, skipping webhook signature validation")
		return true
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(rawBody)
	expected := signaturePrefix + hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(header))
}
