package prefilter

import (
	"bytes"
	"strings"

	"github.com/cloudflare/ahocorasick"
	"golang.org/x/text/encoding/unicode"
)

// SearchCounter counts occurrences of configured terms in stream payloads.
type SearchCounter interface {
	Count(content string) map[string]int
	CountBytes(content []byte) map[string]int
}

const (
	autoAhoMinTerms        = 8
	autoAhoMinContentBytes = 4 * 1024
)

// needle is one encoded form of a search term.
type needle struct {
	term    int
	pattern []byte
}

type naiveSearchCounter struct {
	terms   []string
	needles []needle
}

func (c naiveSearchCounter) Count(content string) map[string]int {
	return c.CountBytes([]byte(content))
}

func (c naiveSearchCounter) CountBytes(content []byte) map[string]int {
	var hits map[string]int
	for _, n := range c.needles {
		count := bytes.Count(content, n.pattern)
		if count > 0 {
			if hits == nil {
				hits = make(map[string]int, 4)
			}
			hits[c.terms[n.term]] += count
		}
	}
	return hits
}

type ahoSearchCounter struct {
	terms   []string
	needles []needle
	matcher *ahocorasick.Matcher
}

func (c ahoSearchCounter) Count(content string) map[string]int {
	return c.CountBytes([]byte(content))
}

func (c ahoSearchCounter) CountBytes(content []byte) map[string]int {
	matches := c.matcher.MatchThreadSafe(content)
	if len(matches) == 0 {
		return nil
	}

	candidates := make([]bool, len(c.needles))
	for _, idx := range matches {
		if idx < 0 || idx >= len(c.needles) {
			continue
		}
		candidates[idx] = true
	}

	var hits map[string]int
	for i := range candidates {
		if !candidates[i] {
			continue
		}
		n := c.needles[i]
		count := bytes.Count(content, n.pattern)
		if count > 0 {
			if hits == nil {
				hits = make(map[string]int, len(c.terms))
			}
			hits[c.terms[n.term]] += count
		}
	}
	return hits
}

type autoSearchCounter struct {
	naive naiveSearchCounter
	aho   ahoSearchCounter
}

func (c autoSearchCounter) Count(content string) map[string]int {
	return c.CountBytes([]byte(content))
}

func (c autoSearchCounter) CountBytes(content []byte) map[string]int {
	if len(c.naive.needles) < autoAhoMinTerms || len(content) < autoAhoMinContentBytes {
		return c.naive.CountBytes(content)
	}
	return c.aho.CountBytes(content)
}

// BuildSearchCounter returns a counter for terms. With wide set every term
// is also matched in its UTF-16LE encoding, the usual text form of Windows
// stream payloads; both encodings count towards the same term.
func BuildSearchCounter(terms []string, wide bool) SearchCounter {
	normalized := normalizeTerms(terms)
	needles := make([]needle, 0, 2*len(normalized))
	for i, term := range normalized {
		needles = append(needles, needle{term: i, pattern: []byte(term)})
		if wide {
			if encoded, err := utf16le.NewEncoder().Bytes([]byte(term)); err == nil {
				needles = append(needles, needle{term: i, pattern: encoded})
			}
		}
	}
	naive := naiveSearchCounter{terms: normalized, needles: needles}
	if len(normalized) == 0 {
		return naive
	}

	patterns := make([][]byte, len(needles))
	for i := range needles {
		patterns[i] = needles[i].pattern
	}
	aho := ahoSearchCounter{terms: normalized, needles: needles, matcher: ahocorasick.NewMatcher(patterns)}
	return autoSearchCounter{naive: naive, aho: aho}
}

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

func normalizeTerms(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	normalized := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		normalized = append(normalized, term)
	}
	return normalized
}
