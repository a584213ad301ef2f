package utils

import (
	"bytes"
	"html/template"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var (
	commentMarkdown = goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithXHTML(),
		),
	)
	commentPolicy = newCommentPolicy()
)

// newCommentPolicy is the UGC policy plus images. Links leave the site in a
// new tab without a referrer.
func newCommentPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowImages()
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)
	p.RequireNoFollowOnLinks(true)
	return p
}

// RenderMarkdown converts comment text to sanitized HTML.
func RenderMarkdown(source string) template.HTML {
	if strings.TrimSpace(source) == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := commentMarkdown.Convert([]byte(source), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(source))
	}
	return polishCommentHTML(commentPolicy.SanitizeBytes(buf.Bytes()))
}

// polishCommentHTML adjusts sanitized markup for the comment list: headings
// are flattened to bold paragraphs so a comment cannot outrank the page, and
// hot-linked travel photos load lazily without a referrer.
func polishCommentHTML(sanitized []byte) template.HTML {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(sanitized))
	if err != nil {
		return template.HTML(sanitized)
	}

	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		inner, _ := s.Html()
		s.ReplaceWithHtml("<p><strong>" + inner + "</strong></p>")
	})
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		s.SetAttr("referrerpolicy", "no-referrer")
		s.SetAttr("loading", "lazy")
		s.AddClass("comment-image")
	})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		rel, _ := s.Attr("rel")
		if !strings.Contains(rel, "ugc") {
			s.SetAttr("rel", strings.TrimSpace(rel+" ugc"))
		}
	})

	out, _ := doc.Find("body").Html()
	return template.HTML(out)
}
