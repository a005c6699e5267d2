// Package specdoc parses module specification documents.
//
// A specification is markdown: ATX headers split it into sections, and
// checkbox list items ("- [ ]" / "- [x]") mark units of work. Both the step
// assessor and the drift detector read documents through this package.
package specdoc

import (
	"regexp"
	"strings"
)

// Section is one header-delimited span of a document. Text before the first
// header forms a preamble section with an empty Header and Level 0.
type Section struct {
	Header string
	Level  int
	Body   string
	// Line is the 1-based line of the header (or 1 for the preamble).
	Line int
	// EndLine is the last line belonging to the section body.
	EndLine int
}

// Document is a parsed specification.
type Document struct {
	Sections []Section
}

// headerPattern matches ATX headers: "## Overview", "### Component: Auth ##".
var headerPattern = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*#*\s*$`)

// fencePattern matches the opening or closing line of a fenced code block.
var fencePattern = regexp.MustCompile("^\\s*(```|~~~)")

// Parse splits content into sections. Headers inside fenced code blocks are
// treated as body text.
func Parse(content string) Document {
	lines := splitLines(content)

	var (
		doc     Document
		current = Section{Line: 1}
		body    []string
		inFence bool
	)

	flush := func(end int) {
		current.Body = strings.Join(body, "\n")
		current.EndLine = end
		if current.Level > 0 || strings.TrimSpace(current.Body) != "" {
			doc.Sections = append(doc.Sections, current)
		}
	}

	for i, line := range lines {
		lineNo := i + 1
		if fencePattern.MatchString(line) {
			inFence = !inFence
		}
		if !inFence {
			if m := headerPattern.FindStringSubmatch(line); m != nil {
				flush(lineNo - 1)
				current = Section{Header: strings.TrimSpace(m[2]), Level: len(m[1]), Line: lineNo}
				body = body[:0]
				continue
			}
		}
		body = append(body, line)
	}
	flush(len(lines))

	return doc
}

// Section returns the first section whose header equals name, ignoring case
// and surrounding whitespace.
func (d Document) Section(name string) (Section, bool) {
	name = strings.TrimSpace(name)
	for _, s := range d.Sections {
		if strings.EqualFold(s.Header, name) {
			return s, true
		}
	}
	return Section{}, false
}

// HasSection reports whether a section named name exists.
func (d Document) HasSection(name string) bool {
	_, ok := d.Section(name)
	return ok
}

// Headers returns section headers in document order, preamble excluded.
func (d Document) Headers() []string {
	out := make([]string, 0, len(d.Sections))
	for _, s := range d.Sections {
		if s.Level > 0 {
			out = append(out, s.Header)
		}
	}
	return out
}

// span returns the line range covered by section i including all deeper
// subsections that follow it.
func (d Document) span(i int) (start, end int) {
	s := d.Sections[i]
	end = s.EndLine
	for _, next := range d.Sections[i+1:] {
		if next.Level <= s.Level {
			break
		}
		end = next.EndLine
	}
	return s.Line, end
}

func splitLines(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.TrimSuffix(content, "\n")
	if content == "" {
		return nil
	}
	return strings.Split(content, "\n")
}
