package terra

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-wearables/core"
)

// SignatureHeader carries "t=<unix seconds>,v1=<hex hmac>" where the hmac is
// SHA-256 over "<t>.<body>" keyed by the webhook secret.
const SignatureHeader = "terra-signature"

// DefaultSignatureTolerance bounds how old a signed delivery may be.
const DefaultSignatureTolerance = 5 * time.Minute

// Sign builds a SignatureHeader value for body at ts.
func Sign(secret string, ts time.Time, body []byte) string {
	stamp := strconv.FormatInt(ts.Unix(), 10)
	return "t=" + stamp + ",v1=" + signatureDigest(secret, stamp, body)
}

func signatureDigest(secret string, stamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(stamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks header against body. A zero tolerance disables the
// timestamp window.
func VerifySignature(secret string, header string, body []byte, now time.Time, tolerance time.Duration) error {
	if strings.TrimSpace(secret) == "" {
		return core.NewConfigurationError("terra: webhook secret is not configured")
	}
	var stamp string
	var candidates []string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			stamp = value
		case "v1":
			candidates = append(candidates, value)
		}
	}
	if stamp == "" || len(candidates) == 0 {
		return core.NewAuthFailedError(Name, "malformed webhook signature")
	}
	seconds, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return core.NewAuthFailedError(Name, "malformed webhook signature timestamp")
	}
	if tolerance > 0 {
		age := now.Sub(time.Unix(seconds, 0))
		if age > tolerance || age < -tolerance {
			return core.NewAuthFailedError(Name, "webhook signature timestamp outside tolerance")
		}
	}
	expected := []byte(signatureDigest(secret, stamp, body))
	for _, candidate := range candidates {
		if hmac.Equal(expected, []byte(strings.ToLower(candidate))) {
			return nil
		}
	}
	return core.NewAuthFailedError(Name, "webhook signature mismatch")
}
