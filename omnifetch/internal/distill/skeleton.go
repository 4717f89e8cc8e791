package distill

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// MaxLeafText is the noise threshold: leaves whose text has this many
// characters or more are dropped from the skeleton.
const MaxLeafText = 500

// noiseTags are removed, with everything under them, before the walk.
const noiseTags = "script, style, noscript, svg, nav, footer, header, iframe"

// Element is one text-bearing leaf of the skeleton.
type Element struct {
	Tag   string `json:"tag"`
	ID    string `json:"id,omitempty"`
	Class string `json:"class,omitempty"`
	Text  string `json:"text"` // trimmed, inner whitespace as in the page
}

// String renders e as <tag id="..." class="...">text</tag>, omitting the
// attributes that are absent. Runs of whitespace in the text are collapsed
// so every element fits on one line.
func (e Element) String() string {
	var b strings.Builder
	b.WriteByte('<')
	b.WriteString(e.Tag)
	if e.ID != "" {
		fmt.Fprintf(&b, " id=%q", e.ID)
	}
	if e.Class != "" {
		fmt.Fprintf(&b, " class=%q", e.Class)
	}
	b.WriteByte('>')
	b.WriteString(collapseSpace(e.Text))
	b.WriteString("</")
	b.WriteString(e.Tag)
	b.WriteByte('>')
	return b.String()
}

// SkeletonElements returns the deduplicated text leaves of html in document
// order. A leaf is an element under <body> with no element children whose
// trimmed text is non-empty and shorter than MaxLeafText. Two leaves are
// duplicates when tag, id, class and trimmed text are all equal.
func SkeletonElements(src string) ([]Element, error) {
	doc, err := parseDocument(src)
	if err != nil {
		return nil, err
	}
	return skeletonOf(doc), nil
}

// skeletonOf removes noise elements from doc and collects its leaves.
func skeletonOf(doc *goquery.Document) []Element {
	doc.Find(noiseTags).Remove()

	var out []Element
	seen := make(map[Element]bool)
	doc.Find("body *").Each(func(_ int, s *goquery.Selection) {
		if s.Children().Length() > 0 {
			return
		}
		text := strings.TrimSpace(s.Text())
		if text == "" || utf8.RuneCountInString(text) >= MaxLeafText {
			return
		}
		el := Element{Tag: goquery.NodeName(s), Text: text}
		el.ID, _ = s.Attr("id")
		el.Class, _ = s.Attr("class")
		el.ID = strings.TrimSpace(el.ID)
		el.Class = collapseSpace(el.Class)

		if seen[el] {
			return
		}
		seen[el] = true
		out = append(out, el)
	})
	return out
}

// parseDocument parses src with the HTML5 parsing algorithm, which never
// fails on malformed markup; only read errors surface.
func parseDocument(src string) (*goquery.Document, error) {
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("distill: parse html: %w", err)
	}
	return goquery.NewDocumentFromNode(root), nil
}

// BuildSkeleton renders SkeletonElements one per line.
func BuildSkeleton(src string) (string, error) {
	els, err := SkeletonElements(src)
	if err != nil {
		return "", err
	}
	lines := make([]string, len(els))
	for i, el := range els {
		lines[i] = el.String()
	}
	return strings.Join(lines, "\n"), nil
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
