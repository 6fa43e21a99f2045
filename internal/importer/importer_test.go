package importer

import (
	"errors"
	"testing"

	"github.com/MrSnakeDoc/marksync/internal/coordinator"
	"github.com/MrSnakeDoc/marksync/internal/domain"
)

const bookmarksYAML = `---
- Developer:
    - Github:
        - abbr: GH
          href: https://github.com/
    - Docs:
        - abbr: DO
          href: {{HOMEPAGE_VAR_DOCS_URL}}
- Social:
    - Reddit:
        - abbr: RE
          href: https://reddit.com/
    - Mirror:
        - abbr: MI
          href: https://github.com/
`

const servicesYAML = `---
- Infrastructure:
    - AdGuard Home:
        icon: adguard-home.svg
        href: https://adguard.domain.ext
        description: Network-wide ads & trackers blocking DNS server
    - Broken:
        href: not a url
`

func TestParseBookmarks(t *testing.T) {
	entries, err := Parse([]byte(bookmarksYAML), FormatBookmarks)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	want := []coordinator.ImportEntry{
		{Title: "Github", URL: "https://github.com/"},
		{Title: "Reddit", URL: "https://reddit.com/"},
	}
	if len(entries) != len(want) {
		t.Fatalf("Parse() returned %d entries, want %d: %+v", len(entries), len(want), entries)
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, entries[i], want[i])
		}
	}
}

func TestParseServices(t *testing.T) {
	entries, err := Parse([]byte(servicesYAML), FormatServices)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Title != "AdGuard Home" || entries[0].URL != "https://adguard.domain.ext" {
		t.Errorf("Parse() = %+v", entries)
	}
}

func TestParseAutoDetect(t *testing.T) {
	tests := []struct {
		name  string
		input string
		first string
	}{
		{name: "bookmarks layout", input: bookmarksYAML, first: "Github"},
		{name: "services layout", input: servicesYAML, first: "AdGuard Home"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := Parse([]byte(tt.input), FormatAuto)
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if entries[0].Title != tt.first {
				t.Errorf("first title = %q, want %q", entries[0].Title, tt.first)
			}
		})
	}
}

func TestParseNothingImportable(t *testing.T) {
	_, err := Parse([]byte("---\n[]\n"), FormatAuto)
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("Parse() error = %v, want validation error", err)
	}
}

func TestParseInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("- Developer: [unclosed"), FormatBookmarks)
	if err == nil {
		t.Fatal("Parse() with invalid yaml should return error")
	}
	if errors.Is(err, domain.ErrValidation) {
		t.Errorf("Parse() error = %v, want a decode error", err)
	}
}

func TestParseFormat(t *testing.T) {
	for _, s := range []string{"", "bookmarks", "services"} {
		if _, err := ParseFormat(s); err != nil {
			t.Errorf("ParseFormat(%q) error = %v", s, err)
		}
	}
	if _, err := ParseFormat("netscape"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("ParseFormat(netscape) error = %v, want validation error", err)
	}
}

func TestStripTemplateVariables(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{
			name:     "single template variable",
			input:    []byte("url: {{HOMEPAGE_VAR_URL}}"),
			expected: "url: \"\"",
		},
		{
			name:     "no template variables",
			input:    []byte("plain text"),
			expected: "plain text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := stripTemplateVariables(tt.input)
			if string(result) != tt.expected {
				t.Errorf("stripTemplateVariables() = %q, want %q", string(result), tt.expected)
			}
		})
	}
}
