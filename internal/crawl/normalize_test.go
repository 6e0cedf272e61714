package crawl

import (
	"net/url"
	"testing"
)

func TestNormalize(t *testing.T) {
	base, _ := url.Parse("https://Example.com/docs/")
	tests := []struct {
		name string
		raw  string
		fold bool
		want string
	}{
		{"lowercases host", "https://EXAMPLE.com/About", false, "https://example.com/About"},
		{"strips fragment", "https://example.com/page#section", false, "https://example.com/page"},
		{"strips tracking params", "https://example.com/p?utm_source=x&utm_medium=y&id=7", false, "https://example.com/p?id=7"},
		{"sorts query keys", "https://example.com/p?b=2&a=1", false, "https://example.com/p?a=1&b=2"},
		{"trims trailing slash", "https://example.com/about/", false, "https://example.com/about"},
		{"keeps root slash", "https://example.com/", false, "https://example.com/"},
		{"adds root slash", "https://example.com", false, "https://example.com/"},
		{"drops default port", "https://example.com:443/x", false, "https://example.com/x"},
		{"resolves relative", "guide", false, "https://example.com/docs/guide"},
		{"www distinct by default", "https://www.example.com/x", false, "https://www.example.com/x"},
		{"fold collapses www and scheme", "http://www.example.com/x", true, "https://example.com/x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.raw, base, tt.fold)
			if err != nil {
				t.Fatalf("Normalize(%q): %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	raw := "https://Example.com/a/?utm_source=x&b=2&a=1#frag"
	once, err := Normalize(raw, nil, false)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	twice, err := Normalize(once, nil, false)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if once != twice {
		t.Errorf("not idempotent: %q -> %q", once, twice)
	}
}

func TestNormalizeRejectsNonHTTP(t *testing.T) {
	if _, err := Normalize("ftp://example.com/file", nil, false); err == nil {
		t.Error("expected error for ftp scheme")
	}
}

func TestExcluded(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://example.com/products?sort=price", true},
		{"https://example.com/products?filter=red", true},
		{"https://example.com/list?page=50", true},
		{"https://example.com/list?page=3", false},
		{"https://example.com/p?a=1&b=2&c=3&d=4", true},
		{"https://example.com/events/2024-06", true},
		{"https://example.com/pricing", false},
	}
	for _, tt := range tests {
		if got := Excluded(tt.url); got != tt.want {
			t.Errorf("Excluded(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestPriorityClass(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://example.com/", "home"},
		{"https://example.com/about", "about"},
		{"https://example.com/company/contact-us", "about"},
		{"https://example.com/pricing", "pricing"},
		{"https://example.com/plans", "pricing"},
		{"https://example.com/faq", "faq"},
		{"https://example.com/support", "faq"},
		{"https://example.com/blog/post-1", ""},
	}
	for _, tt := range tests {
		if got := PriorityClass(tt.url); got != tt.want {
			t.Errorf("PriorityClass(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}
