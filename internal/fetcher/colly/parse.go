package collyfetcher

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

type page struct {
	Title string
	Text  string
	Links []string
}

// parsePage extracts the title, visible text and absolute link targets of an
// HTML body. Relative links resolve against <base href> when present, else
// against pageURL.
func parsePage(pageURL *url.URL, body []byte) (page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return page{}, fmt.Errorf("parse html: %w", err)
	}

	base := pageURL
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if resolved, err := pageURL.Parse(strings.TrimSpace(href)); err == nil {
			base = resolved
		}
	}

	var out page
	out.Title = strings.TrimSpace(doc.Find("title").First().Text())

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}
		target, err := base.Parse(href)
		if err != nil {
			return
		}
		out.Links = append(out.Links, target.String())
	})

	var sb strings.Builder
	for _, n := range doc.Find("body").Nodes {
		collectText(&sb, n)
	}
	out.Text = strings.Join(strings.Fields(sb.String()), " ")
	return out, nil
}

// collectText appends the text nodes under n, skipping elements whose content
// is never rendered.
func collectText(sb *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		sb.WriteString(n.Data)
		sb.WriteByte(' ')
		return
	case html.ElementNode:
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Noscript, atom.Template, atom.Head:
			return
		}
	case html.CommentNode:
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(sb, c)
	}
}
