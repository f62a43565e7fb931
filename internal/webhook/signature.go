package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
)

// verifyHMAC implements spec.md §4.4 step 3: two candidate HMAC-SHA256
// digests (over the raw body, and over "timestamp.body"), base64-encoded,
// compared in constant time against the supplied signature.
func verifyHMAC(rawBody []byte, timestamp, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	candidate1 := hmacBase64(secret, rawBody)
	candidate2 := hmacBase64(secret, []byte(timestamp+"."+string(rawBody)))

	return constantTimeEqual(candidate1, signature) || constantTimeEqual(candidate2, signature)
}

func hmacBase64(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func constantTimeEqual(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}

// extractSignature reads either X-LS-Signature: <base64> or
// X-Signature: signature=<base64>, algorithm=HMAC-SHA256.
func extractSignature(lsSignature, xSignature string) (string, error) {
	if lsSignature != "" {
		return lsSignature, nil
	}
	if xSignature != "" {
		for _, part := range strings.Split(xSignature, ",") {
			kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
			if len(kv) == 2 && kv[0] == "signature" {
				return kv[1], nil
			}
		}
		return "", fmt.Errorf("X-Signature header present but missing signature= field")
	}
	return "", fmt.Errorf("no signature header present")
}
