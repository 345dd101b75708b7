package retrieval

import "github.com/hyperjump/refdesk/pkg/utils"

// excerptLength bounds the text shown for each source.
const excerptLength = 200

// Excerpt shortens chunk text for display, appending "..." when cut.
func Excerpt(content string, maxLen int) string {
	return utils.Truncate(content, maxLen)
}
