package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                             "/",
		"/metrics":                     "/metrics",
		"/v1/sessions/abc":             "/v1/sessions/:id",
		"/v1/principals/u1/roles":      "/v1/principals/:id/roles",
		"/v1/roles/admin":              "/v1/roles/:id",
		"/v1/auth/login":               "/v1/auth/login",
		"/v1/auth/login?redirect=true": "/v1/auth/login",
		"/v1/sessions/abc/x/y":         "/v1/sessions/abc/x/y",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
