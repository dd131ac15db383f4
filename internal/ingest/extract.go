package ingest

import (
	"regexp"
	"strings"
)

var (
	scriptBlockRe = regexp.MustCompile(`(?is)<script\b.*?</script>`)
	styleBlockRe  = regexp.MustCompile(`(?is)<style\b.*?</style>`)
	tagRe         = regexp.MustCompile(`<[^>]+>`)
	whitespaceRe  = regexp.MustCompile(`[\s\v\p{Z}\x{FEFF}]+`)

	entityReplacements = []struct {
		re   *regexp.Regexp
		with string
	}{
		{regexp.MustCompile(`(?i)&nbsp;`), " "},
		{regexp.MustCompile(`(?i)&amp;`), "&"},
		{regexp.MustCompile(`(?i)&lt;`), "<"},
		{regexp.MustCompile(`(?i)&gt;`), ">"},
		{regexp.MustCompile(`(?i)&quot;`), `"`},
		{regexp.MustCompile(`(?i)&#39;`), "'"},
		{regexp.MustCompile(`(?i)&#x27;`), "'"},
	}
)

// ExtractTextFromHTML drops script and style blocks, strips tags, decodes a
// small entity set and collapses whitespace.
func ExtractTextFromHTML(html string) string {
	text := scriptBlockRe.ReplaceAllString(html, " ")
	text = styleBlockRe.ReplaceAllString(text, " ")
	text = tagRe.ReplaceAllString(text, " ")
	text = decodeBasicEntities(text)
	return CollapseWhitespace(text)
}

// CollapseWhitespace folds whitespace runs into single spaces and trims.
func CollapseWhitespace(text string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}

// TruncateChars cuts text to at most limit characters.
func TruncateChars(text string, limit int) string {
	if limit <= 0 || len(text) <= limit {
		return text
	}
	count := 0
	for i := range text {
		if count == limit {
			return text[:i]
		}
		count++
	}
	return text
}

func decodeBasicEntities(text string) string {
	for _, r := range entityReplacements {
		text = r.re.ReplaceAllLiteralString(text, r.with)
	}
	return text
}
