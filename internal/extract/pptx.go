package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// pptxSlide matches slide XML entries and captures the slide number.
var pptxSlide = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// atTag matches <a:t>text</a:t> or <a:t xml:space="preserve">text</a:t>.
var atTag = regexp.MustCompile(`<a:t(?:\s[^>]*)?>([^<]*)</a:t>`)

// extractPPTX returns one page per slide, ordered by slide number.
func extractPPTX(content []byte) ([]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("extract PPTX: not a zip: %w", err)
	}
	type slide struct {
		n    int
		file *zip.File
	}
	var slides []slide
	for _, f := range zr.File {
		m := pptxSlide.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{n: n, file: f})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })

	pages := make([]string, 0, len(slides))
	for _, s := range slides {
		data, err := zipEntry(zr, s.file.Name)
		if err != nil {
			return nil, fmt.Errorf("extract PPTX: %w", err)
		}
		parts := atTag.FindAllStringSubmatch(string(data), -1)
		texts := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(html.UnescapeString(p[1])); t != "" {
				texts = append(texts, t)
			}
		}
		pages = append(pages, strings.Join(texts, " "))
	}
	return pages, nil
}
