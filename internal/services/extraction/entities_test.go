package extraction

import "testing"

func TestNormalizePlanAndFeature(t *testing.T) {
	cases := map[string]string{
		"  Pro Plan ":    "pro_plan",
		"SSO / SAML":     "sso_saml",
		"Enterprise":     "enterprise",
		"API-Access (v2)": "api_access_v2",
	}
	for input, want := range cases {
		if got := NormalizeEntityValue("plan", input); got != want {
			t.Fatalf("NormalizeEntityValue(plan, %q) = %q, want %q", input, got, want)
		}
	}
}

func TestNormalizeLimit(t *testing.T) {
	cases := map[string]string{
		"1,000 per month":      "1000_per_month",
		"50/day":               "50_per_day",
		"10 per user":          "10_per_user",
		"unlimited everything": "unlimited_everything",
	}
	for input, want := range cases {
		if got := NormalizeEntityValue("limit", input); got != want {
			t.Fatalf("NormalizeEntityValue(limit, %q) = %q, want %q", input, got, want)
		}
	}
}

func TestNormalizePricing(t *testing.T) {
	cases := map[string]string{
		"$29.99 per month": "2999_per_month",
		"49/mo":            "4900_per_month",
		"$120 per year":    "12000_per_year",
		"$9.9 per month":   "990_per_month",
	}
	for input, want := range cases {
		if got := NormalizeEntityValue("pricing", input); got != want {
			t.Fatalf("NormalizeEntityValue(pricing, %q) = %q, want %q", input, got, want)
		}
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []struct{ kind, value string }{
		{"plan", "Pro Plan"},
		{"limit", "1,000 per month"},
		{"pricing", "$29.99 per month"},
		{"", "Some Feature"},
	}
	for _, in := range inputs {
		once := NormalizeEntityValue(in.kind, in.value)
		twice := NormalizeEntityValue(in.kind, once)
		if once != twice {
			t.Fatalf("normalization not idempotent for (%s, %q): %q then %q", in.kind, in.value, once, twice)
		}
	}
}
