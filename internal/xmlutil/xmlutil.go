// Package xmlutil provides namespace-prefix-agnostic lookups over etree
// documents. SIFEN responses arrive with varying prefixes (env:, soap:,
// ns2:), so every read matches by local name only.
package xmlutil

import (
	"strings"

	"github.com/beevik/etree"
)

// LocalName strips the namespace prefix from an element tag
func LocalName(elem *etree.Element) string {
	tag := elem.Tag
	if idx := strings.IndexByte(tag, ':'); idx >= 0 {
		return tag[idx+1:]
	}
	return tag
}

// FindByLocalName searches elem and its descendants, depth-first, for
// the first element whose local name matches.
func FindByLocalName(elem *etree.Element, localName string) *etree.Element {
	if elem == nil {
		return nil
	}
	if LocalName(elem) == localName {
		return elem
	}
	for _, child := range elem.ChildElements() {
		if found := FindByLocalName(child, localName); found != nil {
			return found
		}
	}
	return nil
}

// FindAllByLocalName collects every descendant (including elem itself)
// whose local name matches, in document order.
func FindAllByLocalName(elem *etree.Element, localName string) []*etree.Element {
	if elem == nil {
		return nil
	}
	var found []*etree.Element
	if LocalName(elem) == localName {
		found = append(found, elem)
	}
	for _, child := range elem.ChildElements() {
		found = append(found, FindAllByLocalName(child, localName)...)
	}
	return found
}

// TextByLocalName returns the trimmed text of the first matching
// descendant, or "" when absent.
func TextByLocalName(elem *etree.Element, localName string) string {
	if found := FindByLocalName(elem, localName); found != nil {
		return strings.TrimSpace(found.Text())
	}
	return ""
}

// ChildByLocalName returns the first direct child with the given local
// name, without descending further.
func ChildByLocalName(elem *etree.Element, localName string) *etree.Element {
	if elem == nil {
		return nil
	}
	for _, child := range elem.ChildElements() {
		if LocalName(child) == localName {
			return child
		}
	}
	return nil
}
