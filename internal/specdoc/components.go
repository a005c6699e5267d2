package specdoc

import (
	"regexp"
	"strings"
)

// Component is a named unit of a module identified in its specification,
// together with the checklist items written beneath it.
type Component struct {
	Name  string
	Line  int
	Items []Item
}

// ComponentsHeader is the section under which components are listed.
const ComponentsHeader = "Components"

// DependenciesHeader is the section recording a module's dependencies.
const DependenciesHeader = "Dependencies"

var (
	componentPrefix = regexp.MustCompile(`(?i)^component\s*:\s*(.+)$`)
	bulletPattern   = regexp.MustCompile(`^[-*+]\s+(.+)$`)
)

// Components returns the components named in doc. A component is either a
// section headed "Component: <name>" at any level, or a subsection of the
// "Components" section. When the Components section has no subsections,
// its plain (non-checkbox) bullets name the components instead.
func Components(doc Document, content string) []Component {
	items := Checklist(content)
	var out []Component

	add := func(name string, start, end int) {
		c := Component{Name: strings.TrimSpace(name), Line: start}
		for _, it := range items {
			if it.Line > start && it.Line <= end {
				c.Items = append(c.Items, it)
			}
		}
		out = append(out, c)
	}

	for i, s := range doc.Sections {
		if m := componentPrefix.FindStringSubmatch(s.Header); m != nil {
			start, end := doc.span(i)
			add(m[1], start, end)
			continue
		}
		if !strings.EqualFold(s.Header, ComponentsHeader) {
			continue
		}

		found := false
		for j := i + 1; j < len(doc.Sections); j++ {
			sub := doc.Sections[j]
			if sub.Level <= s.Level {
				break
			}
			if sub.Level != s.Level+1 || componentPrefix.MatchString(sub.Header) {
				continue
			}
			start, end := doc.span(j)
			add(sub.Header, start, end)
			found = true
		}
		if found {
			continue
		}

		for k, line := range strings.Split(s.Body, "\n") {
			trimmed := strings.TrimSpace(line)
			if checkboxPattern.MatchString(line) || line != strings.TrimLeft(line, " \t") {
				continue
			}
			if m := bulletPattern.FindStringSubmatch(trimmed); m != nil {
				lineNo := s.Line + 1 + k
				out = append(out, Component{Name: strings.TrimSpace(m[1]), Line: lineNo})
			}
		}
	}

	return out
}
