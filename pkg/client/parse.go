package client

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/menta2k/image-marker/pkg/types"
)

var (
	reBlockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLineComment  = regexp.MustCompile(`(?m)^\s*//.*$`)
	reTrailing     = regexp.MustCompile(`,(\s*[}\]])`)
)

// ParseDescription reads a model reply into a Description. A reply that is
// not JSON becomes the summary as-is, so a chatty model still yields text.
func ParseDescription(raw string) *types.Description {
	clean := SanitizeModelJSON(raw)
	if strings.HasPrefix(clean, "{") {
		var d types.Description
		if err := json.Unmarshal([]byte(clean), &d); err == nil {
			return &d
		}
	}
	return &types.Description{Summary: strings.TrimSpace(raw)}
}

// SanitizeModelJSON strips code fences, comments and trailing commas, and
// keeps only the outermost object.
func SanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.Trim(strings.TrimSpace(raw), "`")

	raw = reBlockComment.ReplaceAllString(raw, "")
	raw = reLineComment.ReplaceAllString(raw, "")
	raw = reTrailing.ReplaceAllString(raw, "$1")

	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}
