package security

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-wearables/core"
)

func testKey(seed byte) []byte {
	return bytes.Repeat([]byte{seed}, 32)
}

func newTestCipher(t *testing.T) *TokenCipher {
	t.Helper()
	cipher, err := NewTokenCipherFromKey("k1", testKey(7))
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	return cipher
}

func stravaContext(tenant string) core.CredentialContext {
	return core.CredentialContext{TenantID: tenant, UserID: "U", Provider: "strava", Table: "user_oauth_tokens"}
}

func TestCredentialContextAAD(t *testing.T) {
	got := string(stravaContext("t1").AAD())
	if got != "\x02t1\x01U\x06strava\x11user_oauth_tokens" {
		t.Fatalf("unexpected aad %q", got)
	}
}

func TestTokenCipherRoundTrip(t *testing.T) {
	cipher := newTestCipher(t)
	for _, plaintext := range []string{"tok_abc", "", strings.Repeat("x", 4096), "ünïcødé"} {
		encoded, err := cipher.Encrypt(plaintext, stravaContext("t1"))
		if err != nil {
			t.Fatalf("encrypt %q: %v", plaintext, err)
		}
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			t.Fatalf("expected standard base64 output: %v", err)
		}
		if len(raw) != NonceSize+len(plaintext)+tagSize {
			t.Fatalf("expected nonce||ct||tag layout, got %d bytes", len(raw))
		}
		decoded, err := cipher.Decrypt(encoded, stravaContext("t1"))
		if err != nil {
			t.Fatalf("decrypt: %v", err)
		}
		if decoded != plaintext {
			t.Fatalf("expected %q, got %q", plaintext, decoded)
		}
	}
}

func TestTokenCipherRejectsMismatchedContext(t *testing.T) {
	cipher := newTestCipher(t)
	base := stravaContext("t1")
	encoded, err := cipher.Encrypt("tok_abc", base)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	mismatches := map[string]core.CredentialContext{
		"tenant":   {TenantID: "t2", UserID: base.UserID, Provider: base.Provider, Table: base.Table},
		"user":     {TenantID: base.TenantID, UserID: "V", Provider: base.Provider, Table: base.Table},
		"provider": {TenantID: base.TenantID, UserID: base.UserID, Provider: "fitbit", Table: base.Table},
		"table":    {TenantID: base.TenantID, UserID: base.UserID, Provider: base.Provider, Table: "other"},
		"shifted":  {TenantID: "t1|U", UserID: "", Provider: base.Provider, Table: base.Table},
	}
	for name, ctx := range mismatches {
		t.Run(name, func(t *testing.T) {
			_, err := cipher.Decrypt(encoded, ctx)
			if !core.HasTextCode(err, core.ErrorDecryptionFailed) {
				t.Fatalf("expected decryption failure, got %v", err)
			}
			if core.IsRetryable(err) {
				t.Fatalf("decryption failures must not be retryable")
			}
			if strings.Contains(err.Error(), "tok_abc") || strings.Contains(err.Error(), encoded) {
				t.Fatalf("error leaks token material: %v", err)
			}
		})
	}
}

func TestTokenCipherTenantScenario(t *testing.T) {
	cipher := newTestCipher(t)
	encrypted, err := cipher.EncryptToken(core.DecryptedToken{AccessToken: "tok_abc", RefreshToken: "ref_xyz"}, stravaContext("t1"))
	if err != nil {
		t.Fatalf("encrypt token: %v", err)
	}
	if encrypted.KeyID != "k1" {
		t.Fatalf("expected key id k1, got %q", encrypted.KeyID)
	}
	if encrypted.AccessToken == encrypted.RefreshToken {
		t.Fatalf("access and refresh tokens must be sealed independently")
	}

	decrypted, err := cipher.DecryptToken(encrypted, stravaContext("t1"))
	if err != nil {
		t.Fatalf("decrypt token: %v", err)
	}
	if decrypted.AccessToken != "tok_abc" || decrypted.RefreshToken != "ref_xyz" {
		t.Fatalf("unexpected decrypted token %+v", decrypted)
	}

	if _, err := cipher.DecryptToken(encrypted, stravaContext("t2")); !core.HasTextCode(err, core.ErrorDecryptionFailed) {
		t.Fatalf("expected decryption failure under another tenant, got %v", err)
	}
}

func TestTokenCipherUsesFreshNonces(t *testing.T) {
	cipher := newTestCipher(t)
	first, _ := cipher.Encrypt("tok_abc", stravaContext("t1"))
	second, _ := cipher.Encrypt("tok_abc", stravaContext("t1"))
	if first == second {
		t.Fatalf("expected distinct ciphertexts for repeated encryption")
	}
}

func TestTokenCipherDetectsTampering(t *testing.T) {
	cipher := newTestCipher(t)
	encoded, _ := cipher.Encrypt("tok_abc", stravaContext("t1"))
	raw, _ := base64.StdEncoding.DecodeString(encoded)
	raw[len(raw)-1] ^= 0x01
	if _, err := cipher.Decrypt(base64.StdEncoding.EncodeToString(raw), stravaContext("t1")); !core.HasTextCode(err, core.ErrorDecryptionFailed) {
		t.Fatalf("expected decryption failure for tampered ciphertext, got %v", err)
	}
}

func TestTokenCipherRejectsMalformedInput(t *testing.T) {
	cipher := newTestCipher(t)
	for _, input := range []string{"not base64!!", base64.StdEncoding.EncodeToString([]byte("short"))} {
		if _, err := cipher.Decrypt(input, stravaContext("t1")); !core.HasTextCode(err, core.ErrorBadInput) {
			t.Fatalf("expected bad input for %q, got %v", input, err)
		}
	}
}

func TestTokenCipherWrongKeyFails(t *testing.T) {
	cipher := newTestCipher(t)
	other, err := NewTokenCipherFromKey("k2", testKey(9))
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	encoded, _ := cipher.Encrypt("tok_abc", stravaContext("t1"))
	if _, err := other.Decrypt(encoded, stravaContext("t1")); !core.HasTextCode(err, core.ErrorDecryptionFailed) {
		t.Fatalf("expected decryption failure with another key, got %v", err)
	}
}

func TestKeyringRotationKeepsOldTokensReadable(t *testing.T) {
	keyring, err := NewKeyring("k1", testKey(1))
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	keyring.now = func() time.Time { return now }
	cipher, _ := NewTokenCipher(keyring)

	old, _ := cipher.Encrypt("tok_old", stravaContext("t1"))
	if err := keyring.Rotate("k2", testKey(2), time.Hour); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if cipher.KeyID() != "k2" {
		t.Fatalf("expected k2 to be primary, got %s", cipher.KeyID())
	}
	if got, err := cipher.Decrypt(old, stravaContext("t1")); err != nil || got != "tok_old" {
		t.Fatalf("expected retired key to decrypt, got %q %v", got, err)
	}

	now = now.Add(2 * time.Hour)
	if _, err := cipher.Decrypt(old, stravaContext("t1")); !core.HasTextCode(err, core.ErrorDecryptionFailed) {
		t.Fatalf("expected retired key to expire, got %v", err)
	}
	if err := keyring.Rotate("k2", testKey(3), 0); err == nil {
		t.Fatalf("expected rotating to the current key id to fail")
	}
}

func TestNormalizeKeyDerivesNonStandardLengths(t *testing.T) {
	if got := normalizeKey([]byte("short-passphrase")); len(got) != 16 {
		t.Fatalf("16 byte key should be used as-is, got %d bytes", len(got))
	}
	if got := normalizeKey([]byte("an arbitrary passphrase")); len(got) != 32 {
		t.Fatalf("expected sha256 derived key, got %d bytes", len(got))
	}
}

func TestEncryptRandFailureIsInternal(t *testing.T) {
	cipher, err := NewTokenCipherFromKey("k1", testKey(7), WithRandReader(bytes.NewReader(nil)))
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	if _, err := cipher.Encrypt("tok", stravaContext("t1")); !core.HasTextCode(err, core.ErrorInternal) {
		t.Fatalf("expected internal error when the nonce source fails, got %v", err)
	}
}

func TestTokenCipherRejectsSeparatorShiftedContext(t *testing.T) {
	cipher := newTestCipher(t)
	sealed := core.CredentialContext{TenantID: "t1|u", UserID: "x", Provider: "strava", Table: "user_oauth_tokens"}
	shifted := core.CredentialContext{TenantID: "t1", UserID: "u|x", Provider: "strava", Table: "user_oauth_tokens"}

	encoded, err := cipher.Encrypt("tok_abc", sealed)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := cipher.Decrypt(encoded, shifted); !core.HasTextCode(err, core.ErrorDecryptionFailed) {
		t.Fatalf("expected decryption failure, got %v", err)
	}
	if decoded, err := cipher.Decrypt(encoded, sealed); err != nil || decoded != "tok_abc" {
		t.Fatalf("expected original context to decrypt, got %q %v", decoded, err)
	}
}
