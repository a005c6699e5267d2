package specdoc

import (
	"regexp"
	"strings"
)

// Item is a checkbox list entry.
type Item struct {
	// Section is the header of the nearest enclosing section.
	Section string
	Text    string
	Done    bool
	// Depth is the nesting level: 0 for top-level items, 1 for items
	// indented one level beneath them, and so on.
	Depth int
	Line  int
}

// checkboxPattern matches markdown checkbox items: - [ ], * [x], + [X].
var checkboxPattern = regexp.MustCompile(`^(\s*)[-*+]\s+\[([ xX])\]\s+(.+)$`)

// Checklist extracts every checkbox item from content in document order.
func Checklist(content string) []Item {
	var (
		items   []Item
		section string
		inFence bool
	)

	for i, line := range splitLines(content) {
		if fencePattern.MatchString(line) {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if m := headerPattern.FindStringSubmatch(line); m != nil {
			section = strings.TrimSpace(m[2])
			continue
		}
		m := checkboxPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		items = append(items, Item{
			Section: section,
			Text:    strings.TrimSpace(m[3]),
			Done:    m[2] == "x" || m[2] == "X",
			Depth:   indentDepth(m[1]),
			Line:    i + 1,
		})
	}

	return items
}

// Stats returns total and completed counts for items.
func Stats(items []Item) (total, done int) {
	total = len(items)
	for _, it := range items {
		if it.Done {
			done++
		}
	}
	return total, done
}

// indentDepth counts a tab or two spaces as one nesting level.
func indentDepth(indent string) int {
	width := 0
	for _, r := range indent {
		if r == '\t' {
			width += 2
		} else {
			width++
		}
	}
	return width / 2
}
