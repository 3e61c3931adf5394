package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"testing"
)

func referenceSignature(body []byte, secret string) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyAcceptsValidSignature(t *testing.T) {
	bodies := [][]byte{
		[]byte(`{"message":{"message":{"text":"Oi"}}}`),
		[]byte(""),
		{0x00, 0xff, 0x10},
	}
	for _, body := range bodies {
		sig := referenceSignature(body, "secret")
		if !Verify(body, sig, "secret") {
			t.Fatalf("expected signature to verify for %q", body)
		}
		if Sign(body, "secret") != sig {
			t.Fatalf("Sign disagrees with reference implementation")
		}
	}
}

func TestVerifyRejectsSingleBitBodyMutations(t *testing.T) {
	body := []byte(`{"message":{"message":{"text":"Olá, quero um polimento"}}}`)
	sig := Sign(body, "secret")
	for i := range body {
		for bit := 0; bit < 8; bit++ {
			mutated := append([]byte(nil), body...)
			mutated[i] ^= 1 << bit
			if Verify(mutated, sig, "secret") {
				t.Fatalf("mutation at byte %d bit %d verified", i, bit)
			}
		}
	}
}

func TestVerifyRejectsSingleBitDigestMutations(t *testing.T) {
	body := []byte(`{"ok":true}`)
	sig := []byte(Sign(body, "secret"))
	for i := range sig {
		for bit := 0; bit < 8; bit++ {
			mutated := append([]byte(nil), sig...)
			mutated[i] ^= 1 << bit
			if Verify(body, string(mutated), "secret") {
				t.Fatalf("digest mutation at byte %d bit %d verified", i, bit)
			}
		}
	}
}

func TestVerifyFailsClosed(t *testing.T) {
	body := []byte(`{}`)
	if Verify(body, Sign(body, ""), "") {
		t.Fatalf("empty secret must never verify")
	}
	if Verify(body, "", "secret") {
		t.Fatalf("missing header must not verify")
	}
	if Verify(body, Sign(body, "other"), "secret") {
		t.Fatalf("signature from another secret must not verify")
	}
}
