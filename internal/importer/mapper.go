package importer

import (
	"maps"
	"net/url"
	"slices"
	"strings"

	"github.com/MrSnakeDoc/marksync/internal/coordinator"
	"github.com/MrSnakeDoc/marksync/internal/domain"
)

// ErrNoEntries is returned when a document holds nothing importable.
var ErrNoEntries = domain.NewValidationError("body", "no importable bookmarks found")

// MapBookmarks converts a bookmarks.yaml document to import entries.
// The bookmark name is the title; abbr is used when the name is blank.
// Entries without href are skipped and repeated URLs keep the first title.
func MapBookmarks(cfg BookmarksConfig) ([]coordinator.ImportEntry, error) {
	c := newCollector()

	for _, category := range cfg {
		for _, categoryName := range slices.Sorted(maps.Keys(category)) {
			for _, bookmarkMap := range category[categoryName] {
				for _, name := range slices.Sorted(maps.Keys(bookmarkMap)) {
					entryList := bookmarkMap[name]
					if len(entryList) == 0 {
						continue
					}
					entry := entryList[0]

					title := strings.TrimSpace(name)
					if title == "" {
						title = entry.Abbr
					}
					c.add(title, entry.Href)
				}
			}
		}
	}

	return c.result()
}

// MapServices converts a services.yaml document to import entries.
// Services whose href has no host are skipped.
func MapServices(cfg ServicesConfig) ([]coordinator.ImportEntry, error) {
	c := newCollector()

	for _, groupMap := range cfg {
		for _, groupName := range slices.Sorted(maps.Keys(groupMap)) {
			for _, serviceMap := range groupMap[groupName] {
				for _, name := range slices.Sorted(maps.Keys(serviceMap)) {
					props := serviceMap[name]

					parsed, err := url.Parse(props.Href)
					if err != nil || parsed.Hostname() == "" {
						continue
					}
					c.add(name, props.Href)
				}
			}
		}
	}

	return c.result()
}

type collector struct {
	entries []coordinator.ImportEntry
	seen    map[string]struct{}
}

func newCollector() *collector {
	return &collector{seen: make(map[string]struct{})}
}

func (c *collector) add(title, href string) {
	title, href = strings.TrimSpace(title), strings.TrimSpace(href)
	if title == "" || href == "" {
		return
	}
	if _, dup := c.seen[href]; dup {
		return
	}
	c.seen[href] = struct{}{}
	c.entries = append(c.entries, coordinator.ImportEntry{Title: title, URL: href})
}

func (c *collector) result() ([]coordinator.ImportEntry, error) {
	if len(c.entries) == 0 {
		return nil, ErrNoEntries
	}
	return c.entries, nil
}
