package distill

import (
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
)

// Preview is a human-oriented view of a rendered page, used to author
// prompts and selectors.
type Preview struct {
	Title    string    `json:"title"`
	Markdown string    `json:"markdown"`
	Skeleton []Element `json:"skeleton"`
}

// Previewer sanitizes rendered HTML and converts it to markdown. Safe for
// concurrent use.
type Previewer struct {
	policy *bluemonday.Policy
	md     *converter.Converter
}

// NewPreviewer builds a Previewer with a UGC sanitizing policy and the
// commonmark + table markdown plugins.
func NewPreviewer() *Previewer {
	return &Previewer{
		policy: bluemonday.UGCPolicy(),
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Build renders html (fetched from sourceURL) into a Preview. Relative links
// in the markdown are resolved against sourceURL.
func (p *Previewer) Build(src, sourceURL string) (*Preview, error) {
	doc, err := parseDocument(src)
	if err != nil {
		return nil, err
	}
	title := collapseSpace(doc.Find("title").First().Text())
	skel := skeletonOf(doc)

	clean := p.policy.Sanitize(src)
	md, err := p.md.ConvertString(clean, converter.WithDomain(sourceURL))
	if err != nil {
		return nil, fmt.Errorf("distill: markdown: %w", err)
	}
	return &Preview{
		Title:    title,
		Markdown: strings.TrimSpace(md),
		Skeleton: skel,
	}, nil
}
