package cryptoutil

import (
	"strings"
	"testing"
)

func TestConstantTimeEquals(t *testing.T) {
	cases := []struct {
		name string
		a    string
		b    string
		want bool
	}{
		{"equal", "abcdef", "abcdef", true},
		{"empty", "", "", true},
		{"mismatch first byte", "xbcdef", "abcdef", false},
		{"mismatch last byte", "abcdex", "abcdef", false},
		{"shorter", "abc", "abcdef", false},
		{"longer", "abcdefgh", "abcdef", false},
		{"one empty", "", "abcdef", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ConstantTimeEquals(tc.a, tc.b); got != tc.want {
				t.Fatalf("ConstantTimeEquals(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestConstantTimeEqualsVisitsEveryByte(t *testing.T) {
	cases := []struct {
		name string
		a    string
		b    string
		want int
	}{
		{"mismatch at first byte", "x" + strings.Repeat("a", 63), strings.Repeat("a", 64), 64},
		{"mismatch at last byte", strings.Repeat("a", 63) + "x", strings.Repeat("a", 64), 64},
		{"unequal lengths", strings.Repeat("a", 10), strings.Repeat("a", 64), 64},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			iterations := 0
			onCompareIteration = func(int) { iterations++ }
			defer func() { onCompareIteration = nil }()

			if ConstantTimeEquals(tc.a, tc.b) {
				t.Fatalf("expected mismatch for %q vs %q", tc.a, tc.b)
			}
			if iterations != tc.want {
				t.Fatalf("compare loop ran %d iterations, want %d", iterations, tc.want)
			}
		})
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	data := BuildSignatureData(
		"POST",
		"/api/v1/events/track",
		"1735689600000",
		"3e8e9db1-9f3e-4d37-96ab-1f1e4f04f2aa",
		"0123456789abcdef0123456789abcdef",
		"",
	)
	secret := "sk_test-secret"

	signature := Sign(data, secret)
	if !VerifySignature(data, signature, secret) {
		t.Fatal("freshly generated signature did not verify")
	}
	if VerifySignature(data, signature, "sk_other-secret") {
		t.Fatal("signature verified under the wrong secret")
	}

	// Flipping any single hex character must break verification.
	for i := range signature {
		flipped := []byte(signature)
		if flipped[i] == 'a' {
			flipped[i] = 'b'
		} else {
			flipped[i] = 'a'
		}
		if string(flipped) == signature {
			continue
		}
		if VerifySignature(data, string(flipped), secret) {
			t.Fatalf("tampered signature verified (byte %d)", i)
		}
	}
}

func TestBuildSignatureData(t *testing.T) {
	got := BuildSignatureData("GET", "/api/v1/protected/test", "123", "dev", "user", "")
	want := "GET|/api/v1/protected/test|123|dev|user|"
	if got != want {
		t.Fatalf("BuildSignatureData = %q, want %q", got, want)
	}
}

func TestGenerateKeys(t *testing.T) {
	apiKey, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}
	if !strings.HasPrefix(apiKey, "ak_") || len(apiKey) < 20 {
		t.Fatalf("unexpected api key format: %q", apiKey)
	}

	secretKey, err := GenerateSecretKey()
	if err != nil {
		t.Fatalf("GenerateSecretKey: %v", err)
	}
	if !strings.HasPrefix(secretKey, "sk_") || len(secretKey) < 20 {
		t.Fatalf("unexpected secret key format: %q", secretKey)
	}

	other, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}
	if other == apiKey {
		t.Fatal("two generated api keys collided")
	}
}

func TestGenerateIDs(t *testing.T) {
	eventID := GenerateEventID()
	if !strings.HasPrefix(eventID, "evt_") || strings.Count(eventID, "_") != 2 {
		t.Fatalf("unexpected event id format: %q", eventID)
	}
	metricID := GenerateTrafficMetricID()
	if !strings.HasPrefix(metricID, "tm_") || strings.Count(metricID, "_") != 2 {
		t.Fatalf("unexpected traffic metric id format: %q", metricID)
	}
}

func TestIsValidUUID(t *testing.T) {
	if !IsValidUUID("3e8e9db1-9f3e-4d37-96ab-1f1e4f04f2aa") {
		t.Fatal("valid uuid rejected")
	}
	for _, bad := range []string{"", "   ", "not-a-uuid", "3e8e9db19f3e4d3796ab"} {
		if IsValidUUID(bad) {
			t.Fatalf("invalid uuid accepted: %q", bad)
		}
	}
}

func TestSHA256Hex(t *testing.T) {
	got := SHA256Hex("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Fatalf("SHA256Hex(abc) = %q, want %q", got, want)
	}
}
