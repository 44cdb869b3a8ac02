// Package textutil provides small, allocation-conscious helpers for cleaning
// up text fields and input lines:
//
//   - StripHTML: remove <...> tag sequences from a string.
//   - CollapseWhitespace: reduce runs of whitespace to a single space.
//   - StripOrdinal: drop a leading "12." list numbering.
//   - Normalizer: Unicode normal form, diacritic removal and case folding,
//     compiled once and reused per value.
package textutil

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// StripHTML removes simplistic HTML/markup tags of the form <...> from s.
// Anything between '<' and the next '>' is dropped along with the delimiters.
// This is a lightweight heuristic, not an HTML parser.
func StripHTML(s string) string {
	if strings.IndexByte(s, '<') < 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	inTag := false
	for _, r := range s {
		switch r {
		case '<':
			inTag = true
		case '>':
			inTag = false
		default:
			if !inTag {
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}

// CollapseWhitespace replaces consecutive whitespace characters with a single
// ASCII space and trims leading and trailing whitespace. A non-breaking space
// (and its common mojibake form, a stray "\u00c2" before it) counts as whitespace.
func CollapseWhitespace(s string) string {
	if s == "" {
		return s
	}
	s = strings.ReplaceAll(s, "\u00c2\u00a0", " ")
	var b strings.Builder
	b.Grow(len(s))
	seenSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !seenSpace {
				b.WriteByte(' ')
				seenSpace = true
			}
			continue
		}
		b.WriteRune(r)
		seenSpace = false
	}
	return strings.TrimSpace(b.String())
}

// StripOrdinal removes an ordered-list prefix such as "12." or "3. " from
// the start of s and trims the rest. Lines without a purely numeric prefix
// before the first '.' are returned trimmed but otherwise unchanged.
func StripOrdinal(s string) string {
	s = strings.TrimSpace(s)
	prefix, rest, ok := strings.Cut(s, ".")
	if !ok || prefix == "" {
		return s
	}
	for _, r := range prefix {
		if !unicode.IsDigit(r) {
			return s
		}
	}
	return strings.TrimSpace(rest)
}

// NormalizeOptions selects the steps a Normalizer applies, in this order:
// tag stripping, whitespace collapsing, ordinal stripping, Unicode form,
// diacritic removal, case folding.
type NormalizeOptions struct {
	StripHTML       bool
	Collapse        bool
	StripOrdinal    bool
	Form            string // "", "NFC", "NFD", "NFKC", "NFKD"
	StripDiacritics bool
	Case            string // "", "lower", "upper", "fold"
}

// Normalizer applies NormalizeOptions to strings. It is safe for concurrent
// use; a fresh transformer chain is built for each call.
type Normalizer struct {
	opts NormalizeOptions
	form norm.Form
	hasF bool
}

// NewNormalizer validates opts.
func NewNormalizer(opts NormalizeOptions) (*Normalizer, error) {
	n := &Normalizer{opts: opts}
	switch strings.ToUpper(opts.Form) {
	case "":
	case "NFC":
		n.form, n.hasF = norm.NFC, true
	case "NFD":
		n.form, n.hasF = norm.NFD, true
	case "NFKC":
		n.form, n.hasF = norm.NFKC, true
	case "NFKD":
		n.form, n.hasF = norm.NFKD, true
	default:
		return nil, fmt.Errorf("unknown unicode form %q", opts.Form)
	}
	switch strings.ToLower(opts.Case) {
	case "", "lower", "upper", "fold":
	default:
		return nil, fmt.Errorf("unknown case mapping %q", opts.Case)
	}
	return n, nil
}

// String normalizes s. Surrounding whitespace is always trimmed.
func (n *Normalizer) String(s string) string {
	if n.opts.StripHTML {
		s = StripHTML(s)
	}
	if n.opts.Collapse {
		s = CollapseWhitespace(s)
	} else {
		s = strings.TrimSpace(s)
	}
	if n.opts.StripOrdinal {
		s = StripOrdinal(s)
	}
	if n.hasF {
		s = n.form.String(s)
	}
	if n.opts.StripDiacritics {
		s = RemoveDiacritics(s)
	}
	switch strings.ToLower(n.opts.Case) {
	case "lower":
		s = cases.Lower(language.Und).String(s)
	case "upper":
		s = cases.Upper(language.Und).String(s)
	case "fold":
		s = cases.Fold().String(s)
	}
	return s
}

// RemoveDiacritics decomposes s, drops combining marks and recomposes it,
// so "Příliš" becomes "Prilis".
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
