package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultTolerance is the replay window applied by Verify when callers pass 0.
const DefaultTolerance = 5 * time.Minute

// Sign computes the X-Webhook-Signature header value for a payload:
// "t={epoch-ms},v1={hex HMAC-SHA256 of \"{ts}.{payload}\"}".
func Sign(payload []byte, secret string, ts time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", &ValidationError{Field: "secret", Reason: "must not be empty"}
	}
	ms := ts.UnixMilli()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ms)
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ms, hex.EncodeToString(mac.Sum(nil))), nil
}

// Verify checks a signature header produced by Sign against the raw request
// body. It never fails with an error: a missing field, a timestamp outside the
// replay tolerance, or an HMAC mismatch all return false. Exported so any
// receiving endpoint can validate webhooks from this engine.
func Verify(payload []byte, header, secret string, tolerance time.Duration) bool {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	var tsField, sigField string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			tsField = v
		case "v1":
			sigField = v
		}
	}
	if tsField == "" || sigField == "" {
		return false
	}
	ms, err := strconv.ParseInt(tsField, 10, 64)
	if err != nil {
		return false
	}
	skew := time.Since(time.UnixMilli(ms))
	if skew < 0 {
		skew = -skew
	}
	if skew > tolerance {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ms)
	mac.Write(payload)
	got, err := hex.DecodeString(sigField)
	if err != nil {
		return false
	}
	// hmac.Equal is constant time; unequal lengths compare as non-matching.
	return hmac.Equal(mac.Sum(nil), got)
}
