package scraper

import (
	"html"
	"regexp"
	"strings"
	"time"
)

// platformMapping maps the numeric platform IDs embedded in the
// source's image filenames to display names.
var platformMapping = map[string]string{
	"10": "Jio Hotstar",
	"4":  "Prime Video",
	"52": "Zee5",
	"30": "Netflix",
	"39": "Sony Liv",
	"16": "Google Play",
	"5":  "Apple Tv+",
	"2":  "Aha",
	"21": "Jio Cinema",
	"6":  "Book my Show",
	"26": "Lionsgate",
	"41": "Sun Nxt",
	"55": "Etv Win",
	"59": "Ultra Play",
}

var (
	parenthesizedRe = regexp.MustCompile(`\s?\(.*?\)`)
	seasonSuffixRe  = regexp.MustCompile(`(?i)\b(Season|S)\s*\d+.*`)
	platformIDRe    = regexp.MustCompile(`/(\d+)\.webp`)
)

// dateFormats are tried in order; the first successful parse wins.
var dateFormats = []string{"02 Jan 2006", "2006-01-02"}

// CleanTitle normalizes a scraped title: HTML entities decoded,
// parenthesized suffixes and trailing "Season N"/"S N" markers removed.
func CleanTitle(title string) string {
	if title == "" {
		return ""
	}
	cleaned := html.UnescapeString(title)
	cleaned = parenthesizedRe.ReplaceAllString(cleaned, "")
	cleaned = seasonSuffixRe.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}

// resolvePlatform extracts the numeric platform ID from the listing's
// image URLs and maps it to a name. Unresolvable IDs map to "Other".
func resolvePlatform(imageURLs []string) string {
	for _, u := range imageURLs {
		m := platformIDRe.FindStringSubmatch(u)
		if m == nil {
			continue
		}
		if name, ok := platformMapping[m[1]]; ok {
			return name
		}
	}
	return "Other"
}

// parseStreamingDate normalizes a raw date string to YYYY-MM-DD.
// Unparseable dates yield nil, never an error.
func parseStreamingDate(raw string) *string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, format := range dateFormats {
		if t, err := time.Parse(format, raw); err == nil {
			d := t.Format("2006-01-02")
			return &d
		}
	}
	return nil
}
