package cryptoutil

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	apiKeyPrefix    = "ak_"
	secretKeyPrefix = "sk_"
)

// GenerateAPIKey returns a new api key of the form ak_<base64url random>.
func GenerateAPIKey() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return apiKeyPrefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

// GenerateSecretKey returns a new signing secret of the form sk_<base64url random>.
func GenerateSecretKey() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate secret key: %w", err)
	}
	return secretKeyPrefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

// GenerateEventID returns an event id of the form evt_<millis>_<8 hex chars>.
func GenerateEventID() string {
	return prefixedID("evt_")
}

// GenerateTrafficMetricID returns a traffic metric id of the form tm_<millis>_<8 hex chars>.
func GenerateTrafficMetricID() string {
	return prefixedID("tm_")
}

func prefixedID(prefix string) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s%d_%s", prefix, time.Now().UnixMilli(), random)
}

// IsValidUUID reports whether value parses as a UUID.
func IsValidUUID(value string) bool {
	if strings.TrimSpace(value) == "" {
		return false
	}
	_, err := uuid.Parse(value)
	return err == nil
}

// SHA256Hex returns the lowercase hex SHA-256 digest of data.
func SHA256Hex(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// BuildSignatureData builds the canonical signing string:
// method|path|timestamp|deviceId|userId|body. The server verifies with an
// empty body placeholder so the request body is never consumed twice; this
// must stay in sync with client-side signing.
func BuildSignatureData(method, path, timestamp, deviceID, userID, body string) string {
	return strings.Join([]string{method, path, timestamp, deviceID, userID, body}, "|")
}

// Sign computes the hex HMAC-SHA256 of data under secretKey.
func Sign(data, secretKey string) string {
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature recomputes the signature for data and compares it against
// the supplied one in constant time.
func VerifySignature(data, signature, secretKey string) bool {
	return ConstantTimeEquals(Sign(data, secretKey), signature)
}

// onCompareIteration is a test hook observing that the compare loop does not
// exit early. Nil outside tests.
var onCompareIteration func(index int)

// ConstantTimeEquals compares two strings without early exit. The loop always
// runs over the longer of the two lengths and the length difference is folded
// into the accumulator, so the duration depends only on input sizes.
func ConstantTimeEquals(a, b string) bool {
	x := []byte(a)
	y := []byte(b)

	max := len(x)
	if len(y) > max {
		max = len(y)
	}

	result := len(x) ^ len(y)
	for i := 0; i < max; i++ {
		if onCompareIteration != nil {
			onCompareIteration(i)
		}
		var xb, yb byte
		if i < len(x) {
			xb = x[i]
		}
		if i < len(y) {
			yb = y[i]
		}
		result |= int(xb ^ yb)
	}
	return result == 0
}
