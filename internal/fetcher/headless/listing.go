package headless

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/paper-harvester/internal/harvest/tree"
)

const (
	folderSelector   = "a[href*='__doPostBack']"
	documentSelector = "a[href$='.pdf'], a[href$='.PDF']"
)

// ParseListing extracts folder and document anchors from a rendered page.
// Folder indexes count every postback anchor so they line up with the
// anchors Click addresses in the live DOM. Document hrefs are resolved
// against pageURL.
func ParseListing(html, pageURL string) (tree.Listing, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return tree.Listing{}, fmt.Errorf("parse listing html: %w", err)
	}
	base, _ := url.Parse(pageURL)

	var out tree.Listing
	doc.Find(folderSelector).Each(func(i int, s *goquery.Selection) {
		text := collapse(s.Text())
		if text == "" || text == ".." || strings.HasSuffix(strings.ToLower(text), ".pdf") {
			return
		}
		if title, _ := s.Attr("title"); title == "Go Back" {
			return
		}
		out.Folders = append(out.Folders, tree.Entry{Index: i, Name: text})
	})
	doc.Find(documentSelector).Each(func(i int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		abs := resolve(base, strings.TrimSpace(href))
		name := collapse(s.Text())
		if name == "" {
			name = documentName(abs)
		}
		out.Documents = append(out.Documents, tree.Entry{Index: i, Name: name, URL: abs})
	})
	return out, nil
}

func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

func documentName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return path.Base(rawURL)
	}
	return path.Base(u.Path)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
