package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"regexp"
	"strings"
)

// odfContentPath is the main content part of OpenDocument packages.
const odfContentPath = "content.xml"

var (
	// odfBlock matches a text:p or text:h element, skipping self-closing ones.
	odfBlock = regexp.MustCompile(`(?s)<text:(?:p|h)(?:\s[^>]*[^/])?>(.*?)</text:(?:p|h)>`)
	// odfSpace matches inline whitespace elements.
	odfSpace = regexp.MustCompile(`<text:(?:s|tab|line-break)(?:\s[^>]*)?/>`)
	// xmlTag matches any remaining tag.
	xmlTag = regexp.MustCompile(`<[^>]+>`)

	odpPage  = regexp.MustCompile(`(?s)<draw:page(?:\s[^>]*[^/])?>(.*?)</draw:page>`)
	odsTable = regexp.MustCompile(`(?s)<table:table(?:\s[^>]*[^/])?>(.*?)</table:table>`)
	odsRow   = regexp.MustCompile(`(?s)<table:table-row(?:\s[^>]*[^/])?>(.*?)</table:table-row>`)
)

// odfContent opens an OpenDocument zip and returns content.xml.
func odfContent(content []byte, kind string) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract %s: not a zip: %w", kind, err)
	}
	data, err := zipEntry(zr, odfContentPath)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", kind, err)
	}
	if data == nil {
		return "", fmt.Errorf("extract %s: %s not found", kind, odfContentPath)
	}
	return string(data), nil
}

// odfParagraphs returns the non-empty paragraphs and headings of an XML fragment,
// including text nested in spans.
func odfParagraphs(fragment string) []string {
	var out []string
	for _, m := range odfBlock.FindAllStringSubmatch(fragment, -1) {
		text := odfSpace.ReplaceAllString(m[1], " ")
		text = xmlTag.ReplaceAllString(text, "")
		text = strings.TrimSpace(html.UnescapeString(text))
		if text != "" {
			out = append(out, text)
		}
	}
	return out
}

// extractODT returns the paragraphs of an OpenDocument text file, one per line.
func extractODT(content []byte) (string, error) {
	s, err := odfContent(content, "ODT")
	if err != nil {
		return "", err
	}
	return strings.Join(odfParagraphs(s), "\n"), nil
}

// extractODP returns one page per draw:page. A presentation without page elements
// is returned as a single page.
func extractODP(content []byte) ([]string, error) {
	s, err := odfContent(content, "ODP")
	if err != nil {
		return nil, err
	}
	matches := odpPage.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return []string{strings.Join(odfParagraphs(s), " ")}, nil
	}
	pages := make([]string, 0, len(matches))
	for _, m := range matches {
		pages = append(pages, strings.Join(odfParagraphs(m[1]), " "))
	}
	return pages, nil
}

// extractODS returns one page per table; cells are tab separated, rows newline separated.
func extractODS(content []byte) ([]string, error) {
	s, err := odfContent(content, "ODS")
	if err != nil {
		return nil, err
	}
	tables := odsTable.FindAllStringSubmatch(s, -1)
	if len(tables) == 0 {
		return []string{strings.Join(odfParagraphs(s), " ")}, nil
	}
	pages := make([]string, 0, len(tables))
	for _, t := range tables {
		var lines []string
		for _, row := range odsRow.FindAllStringSubmatch(t[1], -1) {
			if cells := odfParagraphs(row[1]); len(cells) > 0 {
				lines = append(lines, strings.Join(cells, "\t"))
			}
		}
		pages = append(pages, strings.Join(lines, "\n"))
	}
	return pages, nil
}
