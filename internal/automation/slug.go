package automation

import (
	"net/url"
	"regexp"
	"strings"
)

// whitespaceRun matches ASCII and Unicode space separators, including
// no-break and ideographic spaces, line and paragraph separators and BOM.
var whitespaceRun = regexp.MustCompile(`[\s\x0B\p{Zs}\x{2028}\x{2029}\x{FEFF}]+`)

// Slug lower-cases name and replaces every run of whitespace with a single
// hyphen: "Morning Upload" becomes "morning-upload".
func Slug(name string) string {
	return whitespaceRun.ReplaceAllString(strings.ToLower(name), "-")
}

// InboundURL derives the public trigger URL of an inbound webhook. The slug
// is informational; the id routes the call.
func InboundURL(baseURL, webhookID, name string) string {
	u := strings.TrimRight(baseURL, "/") + "/api/webhooks/" + url.PathEscape(webhookID)
	if slug := Slug(name); slug != "" {
		u += "?name=" + url.QueryEscape(slug)
	}
	return u
}
