package importer

import (
	"errors"
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/MrSnakeDoc/marksync/internal/coordinator"
	"github.com/MrSnakeDoc/marksync/internal/domain"
)

// Format names the YAML layout of an import document.
type Format string

const (
	FormatAuto      Format = ""
	FormatBookmarks Format = "bookmarks" // Homepage bookmarks.yaml
	FormatServices  Format = "services"  // Homepage services.yaml
)

// ParseFormat maps a query value to a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatAuto, FormatBookmarks, FormatServices:
		return Format(s), nil
	default:
		return "", domain.NewValidationError("format", fmt.Sprintf("unknown import format %q", s))
	}
}

var templateVar = regexp.MustCompile(`\{\{[^}]+\}\}`)

// stripTemplateVariables removes Homepage template variables from YAML
// Example: {{HOMEPAGE_VAR_ADGUARD_USER}} -> ""
func stripTemplateVariables(data []byte) []byte {
	return templateVar.ReplaceAll(data, []byte(`""`))
}

// Parse decodes an import document into entries ready for
// coordinator.Import. FormatAuto tries the bookmarks layout, then the
// services layout.
func Parse(data []byte, format Format) ([]coordinator.ImportEntry, error) {
	data = stripTemplateVariables(data)

	switch format {
	case FormatBookmarks:
		return parseBookmarks(data)
	case FormatServices:
		return parseServices(data)
	}

	entries, err := parseBookmarks(data)
	if err == nil {
		return entries, nil
	}
	entries, serr := parseServices(data)
	if serr == nil {
		return entries, nil
	}
	// The bookmarks layout decoded but held nothing importable.
	if errors.Is(err, domain.ErrValidation) {
		return nil, err
	}
	return nil, serr
}

func parseBookmarks(data []byte) ([]coordinator.ImportEntry, error) {
	var cfg BookmarksConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse bookmarks yaml: %w", err)
	}
	return MapBookmarks(cfg)
}

func parseServices(data []byte) ([]coordinator.ImportEntry, error) {
	var cfg ServicesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse services yaml: %w", err)
	}
	return MapServices(cfg)
}
