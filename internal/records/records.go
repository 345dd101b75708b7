// Package records turns JSON and JSONL documents into searchable units.
//
// Each record is flattened into a text string made of "Label: value" fragments
// plus a flat metadata map. Verse/translation records (chapter, verse, arabic,
// translation, ...) get dedicated metadata keys; other records are swept field
// by field, with nested objects flattened into dotted keys.
package records

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/hyperjump/refdesk/internal/models"
	"github.com/tidwall/gjson"
)

const (
	// Separator joins the text fragments of one record.
	Separator = " | "
	// MinFieldLength is the shortest string value kept as a fragment by the generic rule.
	MinFieldLength = 3
	// MaxLineSize bounds one JSONL line.
	MaxLineSize = 10 * 1024 * 1024
)

// ErrInvalidJSON is returned when a whole JSON document cannot be parsed.
var ErrInvalidJSON = errors.New("invalid JSON")

// Skip records a JSONL line that was not turned into a unit.
type Skip struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// Result holds the units extracted from one document.
type Result struct {
	Units   []*models.Unit
	Skipped []Skip
	// Empty counts well-formed records that produced no searchable text.
	Empty int
}

// ExtractJSONL reads one JSON value per line. Blank lines are ignored; lines that
// are not valid JSON are recorded in Result.Skipped and do not fail the file.
// Unit numbers are 1-based physical line numbers.
func ExtractJSONL(r io.Reader) (*Result, error) {
	res := &Result{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		if !gjson.Valid(raw) {
			res.Skipped = append(res.Skipped, Skip{Line: line, Reason: "invalid JSON"})
			continue
		}
		v := gjson.Parse(raw)
		var u *models.Unit
		if v.IsObject() {
			u = recordUnit(line, v)
		} else {
			u = genericUnit(line, v)
		}
		res.add(u)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read line %d: %w", line+1, err)
	}
	return res, nil
}

// ExtractJSON parses a whole JSON document. An array yields one unit per element
// using the generic field-by-field rule; an object yields a single unit with
// nested keys flattened into dotted paths; a scalar yields a single unit.
func ExtractJSON(data []byte) (*Result, error) {
	if !gjson.ValidBytes(data) {
		return nil, ErrInvalidJSON
	}
	v := gjson.ParseBytes(data)
	res := &Result{}
	switch {
	case v.IsArray():
		n := 0
		v.ForEach(func(_, el gjson.Result) bool {
			n++
			res.add(genericUnit(n, el))
			return true
		})
	case v.IsObject():
		res.add(documentUnit(v))
	default:
		res.add(genericUnit(1, v))
	}
	return res, nil
}

func (r *Result) add(u *models.Unit) {
	if strings.TrimSpace(u.Text) == "" {
		r.Empty++
		return
	}
	r.Units = append(r.Units, u)
}

type verseField struct {
	key     string
	label   string
	aliases []string
}

var verseFields = []verseField{
	{"chapter", "Chapter", []string{"surah", "chapter"}},
	{"verse", "Verse", []string{"ayah", "verse"}},
	{"chapter_name", "Chapter name", []string{"surah_name", "chapter_name"}},
	{"arabic", "Arabic", []string{"arabic", "text_arabic"}},
	{"transliteration", "Transliteration", []string{"transliteration"}},
	{"translation", "Translation", []string{"translation", "english", "text_english"}},
	{"juz", "Juz", []string{"juz"}},
	{"reference", "Reference", []string{"reference"}},
}

var textKeys = []string{"text", "content", "title", "description", "body", "summary", "name", "question", "answer"}

// recordUnit flattens one JSONL object record.
func recordUnit(number int, rec gjson.Result) *models.Unit {
	fields := objectFields(rec)
	consumed := make(map[string]bool)
	meta := make(map[string]interface{})
	var fragments []string

	for _, vf := range verseFields {
		for _, alias := range vf.aliases {
			v, ok := fields[alias]
			if !ok || consumed[alias] || !isScalar(v) || scalarString(v) == "" {
				continue
			}
			consumed[alias] = true
			meta[vf.key] = scalarValue(v)
			fragments = append(fragments, vf.label+": "+scalarString(v))
			break
		}
	}

	for _, key := range textKeys {
		v, ok := fields[key]
		if !ok || consumed[key] || v.Type != gjson.String {
			continue
		}
		s := strings.TrimSpace(v.Str)
		if s == "" {
			continue
		}
		consumed[key] = true
		fragments = append(fragments, label(key)+": "+s)
		if key != "text" && key != "content" {
			meta[key] = s
		}
	}

	rec.ForEach(func(k, v gjson.Result) bool {
		if !consumed[k.String()] {
			flatten(k.String(), v, meta)
		}
		return true
	})

	if len(fragments) == 0 {
		fragments = genericFragments("", rec)
	}
	return &models.Unit{
		Number:   number,
		Text:     strings.Join(fragments, Separator),
		Metadata: meta,
		Raw:      []byte(rec.Raw),
	}
}

// genericUnit flattens a record field by field, dropping short strings.
func genericUnit(number int, v gjson.Result) *models.Unit {
	meta := make(map[string]interface{})
	if v.IsObject() || v.IsArray() {
		v.ForEach(func(k, el gjson.Result) bool {
			flatten(k.String(), el, meta)
			return true
		})
	}
	return &models.Unit{
		Number:   number,
		Text:     strings.Join(genericFragments("", v), Separator),
		Metadata: meta,
		Raw:      []byte(v.Raw),
	}
}

// documentUnit flattens a whole JSON object into one unit with dotted keys.
func documentUnit(doc gjson.Result) *models.Unit {
	meta := make(map[string]interface{})
	doc.ForEach(func(k, v gjson.Result) bool {
		flatten(k.String(), v, meta)
		return true
	})
	return &models.Unit{
		Number:   1,
		Text:     strings.Join(genericFragments("", doc), Separator),
		Metadata: meta,
	}
}

// flatten copies the scalars of v into meta under dotted key paths.
func flatten(prefix string, v gjson.Result, meta map[string]interface{}) {
	switch v.Type {
	case gjson.Null:
		return
	case gjson.JSON:
		v.ForEach(func(k, el gjson.Result) bool {
			flatten(joinKey(prefix, k.String()), el, meta)
			return true
		})
	default:
		meta[prefix] = scalarValue(v)
	}
}

// genericFragments returns "key: value" fragments for every scalar leaf of v,
// skipping strings shorter than MinFieldLength.
func genericFragments(prefix string, v gjson.Result) []string {
	var out []string
	switch v.Type {
	case gjson.Null:
	case gjson.JSON:
		v.ForEach(func(k, el gjson.Result) bool {
			out = append(out, genericFragments(joinKey(prefix, k.String()), el)...)
			return true
		})
	case gjson.String:
		s := strings.TrimSpace(v.Str)
		if len([]rune(s)) < MinFieldLength {
			break
		}
		if prefix == "" {
			out = append(out, s)
		} else {
			out = append(out, prefix+": "+s)
		}
	default:
		if prefix == "" {
			out = append(out, scalarString(v))
		} else {
			out = append(out, prefix+": "+scalarString(v))
		}
	}
	return out
}

// objectFields indexes the top-level fields of an object by key.
func objectFields(obj gjson.Result) map[string]gjson.Result {
	fields := make(map[string]gjson.Result)
	obj.ForEach(func(k, v gjson.Result) bool {
		fields[k.String()] = v
		return true
	})
	return fields
}

func isScalar(v gjson.Result) bool {
	switch v.Type {
	case gjson.String, gjson.Number, gjson.True, gjson.False:
		return true
	}
	return false
}

// scalarValue converts a scalar to a Go value; integral numbers become int64.
func scalarValue(v gjson.Result) interface{} {
	switch v.Type {
	case gjson.String:
		return v.Str
	case gjson.Number:
		if v.Num == math.Trunc(v.Num) && math.Abs(v.Num) < 1<<53 {
			return int64(v.Num)
		}
		return v.Num
	case gjson.True:
		return true
	case gjson.False:
		return false
	}
	return v.String()
}

func scalarString(v gjson.Result) string {
	switch v.Type {
	case gjson.String:
		return strings.TrimSpace(v.Str)
	case gjson.Number:
		if v.Num == math.Trunc(v.Num) && math.Abs(v.Num) < 1<<53 {
			return strconv.FormatInt(int64(v.Num), 10)
		}
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	}
	return v.String()
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func label(key string) string {
	if key == "" {
		return key
	}
	return strings.ToUpper(key[:1]) + key[1:]
}
