package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                               "/",
		"/metrics":                       "/metrics",
		"/balance?userAddress=0xabc":     "/balance",
		"/distributions":                 "/distributions",
		"/distributions/7":               "/distributions/:id",
		"/distributions/7/claimed/0xabc": "/distributions/:id/claimed/:holder",
		"/distributions/7/other/0xabc":   "/distributions/7/other/0xabc",
		"/signature":                     "/signature",
		"/admin/distributions":           "/admin/distributions",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestMaskAddress(t *testing.T) {
	cases := map[string]string{
		"":                                           "",
		"0x12":                                       "[REDACTED]",
		"0x52908400098527886E0F7030069857D2E4169EE7": "0x5290...9EE7",
	}
	for input, expected := range cases {
		if got := MaskAddress(input); got != expected {
			t.Fatalf("MaskAddress(%q)=%q, want %q", input, got, expected)
		}
	}
}
