package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifyHMAC_MatchesRawBodyCandidate(t *testing.T) {
	body := []byte(`{"type":"inventory.update"}`)
	sig := hmacBase64("shh", body)

	assert.True(t, verifyHMAC(body, "1690000000", sig, "shh"))
}

func TestVerifyHMAC_MatchesTimestampDotBodyCandidate(t *testing.T) {
	body := []byte(`{"type":"inventory.update"}`)
	timestamp := "1690000000"
	sig := hmacBase64("shh", []byte(timestamp+"."+string(body)))

	assert.True(t, verifyHMAC(body, timestamp, sig, "shh"))
}

func TestVerifyHMAC_RejectsWrongSecret(t *testing.T) {
	body := []byte(`{"type":"inventory.update"}`)
	sig := hmacBase64("shh", body)

	assert.False(t, verifyHMAC(body, "1690000000", sig, "wrong"))
}

func TestVerifyHMAC_RejectsEmptySignatureOrSecret(t *testing.T) {
	body := []byte(`{}`)
	assert.False(t, verifyHMAC(body, "1", "", "shh"))
	assert.False(t, verifyHMAC(body, "1", "somesig", ""))
}

func TestExtractSignature_PrefersLSSignatureHeader(t *testing.T) {
	sig, err := extractSignature("ls-sig-value", "signature=x-sig-value, algorithm=HMAC-SHA256")
	assert.NoError(t, err)
	assert.Equal(t, "ls-sig-value", sig)
}

func TestExtractSignature_ParsesXSignatureHeader(t *testing.T) {
	sig, err := extractSignature("", "signature=abc123, algorithm=HMAC-SHA256")
	assert.NoError(t, err)
	assert.Equal(t, "abc123", sig)
}

func TestExtractSignature_ErrorsOnMissingField(t *testing.T) {
	_, err := extractSignature("", "algorithm=HMAC-SHA256")
	assert.Error(t, err)
}

func TestExtractSignature_ErrorsOnNoHeaders(t *testing.T) {
	_, err := extractSignature("", "")
	assert.Error(t, err)
}
