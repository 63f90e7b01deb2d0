// Package content retrieves chapter bodies and splits them into segments.
package content

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/IReaderorg/IReader-sub034/internal/catalog"
)

// DefaultSelector lists candidate chapter containers, most specific first.
const DefaultSelector = "article, .chapter-content, #chapter-content, .content, body"

const (
	blockSelectors      = "p, img, h1, h2, h3, h4, h5, h6, blockquote, li"
	nonContentSelectors = "script, style, nav, header, footer, noscript, iframe"
)

// FromHTML extracts text and image segments from an HTML page. The first
// candidate in selector that matches becomes the chapter root; blocks inside
// it are returned in document order. Relative image URLs are resolved against
// base when it is not nil.
func FromHTML(r io.Reader, selector string, base *url.URL) ([]catalog.Segment, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	root := chapterRoot(doc, selector)
	if root == nil {
		return nil, nil
	}
	root.Find(nonContentSelectors).Remove()

	var out []catalog.Segment
	root.Find(blockSelectors).Each(func(_ int, s *goquery.Selection) {
		if goquery.NodeName(s) == "img" {
			if src := imageSource(s, base); src != "" {
				out = append(out, catalog.Segment{Kind: catalog.SegmentImage, URL: src})
			}
			return
		}
		// Nested blocks (a <p> inside a <li>) are emitted by the inner match.
		if s.Find(blockSelectors).Length() > 0 && goquery.NodeName(s) != "p" {
			return
		}
		if text := normalizeSpace(s.Text()); text != "" {
			out = append(out, catalog.Segment{Kind: catalog.SegmentText, Text: text})
		}
	})
	if len(out) == 0 {
		if text := normalizeSpace(root.Text()); text != "" {
			out = append(out, catalog.Segment{Kind: catalog.SegmentText, Text: text})
		}
	}
	return out, nil
}

func chapterRoot(doc *goquery.Document, selector string) *goquery.Selection {
	if strings.TrimSpace(selector) == "" {
		selector = DefaultSelector
	}
	for _, cand := range strings.Split(selector, ",") {
		cand = strings.TrimSpace(cand)
		if cand == "" {
			continue
		}
		if sel := doc.Find(cand).First(); sel.Length() > 0 {
			return sel
		}
	}
	return nil
}

func imageSource(s *goquery.Selection, base *url.URL) string {
	src, _ := s.Attr("src")
	if src == "" {
		src, _ = s.Attr("data-src")
	}
	src = strings.TrimSpace(src)
	if src == "" || base == nil {
		return src
	}
	ref, err := url.Parse(src)
	if err != nil {
		return src
	}
	return base.ResolveReference(ref).String()
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
