package traffic

import (
	"testing"

	"github.com/google/uuid"
)

func TestNormalizeMetricType(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"page_view", "page_view"},
		{"pageview", "page_view"},
		{"PageView", "page_view"},
		{"page-view", "page_view"},
		{"page view", "page_view"},
		{"  Page--View  ", "page_view"},
		{"apiCall", "api_call"},
		{"API", "api"},
		{"unique_visitor", "unique_visitor"},
		{"__click__", "click"},
		{"", ""},
		{"   ", ""},
		{"---", ""},
	}
	for _, tc := range cases {
		if got := NormalizeMetricType(tc.in); got != tc.want {
			t.Errorf("NormalizeMetricType(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDeriveUserID(t *testing.T) {
	deviceID := uuid.MustParse("3F1A9C2E-6D4B-4E8A-9F21-58C7D0AA41BE")

	got := DeriveUserID(deviceID)
	if len(got) != 32 {
		t.Fatalf("derived user id length = %d, want 32", len(got))
	}
	for _, r := range got {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			t.Fatalf("derived user id %q contains non-hex rune %q", got, r)
		}
	}

	// case of the UUID string must not change the result
	lower := DeriveUserID(uuid.MustParse("3f1a9c2e-6d4b-4e8a-9f21-58c7d0aa41be"))
	if got != lower {
		t.Fatalf("derived id differs by UUID case: %q vs %q", got, lower)
	}

	other := DeriveUserID(uuid.MustParse("00000000-0000-0000-0000-000000000001"))
	if got == other {
		t.Fatal("different devices derived the same user id")
	}
}
