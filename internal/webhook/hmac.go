package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

var errVerification = errors.New("webhook verification failed")

// verifyHMACSignature checks signature against HMAC-SHA256(body, secret).
// Accepted formats are "sha256=<hex>" and bare hex. Every failure returns
// the same error.
func verifyHMACSignature(body []byte, signature, secret string) error {
	if secret == "" || signature == "" {
		return errVerification
	}

	actual, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return errVerification
	}

	if subtle.ConstantTimeCompare(computeMAC(body, secret), actual) != 1 {
		return errVerification
	}
	return nil
}

func computeMAC(body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

// Sign returns the "sha256=<hex>" header value for body. Relays posting to
// the intake use it to sign requests.
func Sign(body []byte, secret string) string {
	return "sha256=" + hex.EncodeToString(computeMAC(body, secret))
}
