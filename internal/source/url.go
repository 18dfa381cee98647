// Package source fetches a web page and reduces it to readable text.
package source

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"ragchat/internal/domain"
)

const userAgent = "ragchat/1.0 (+https://github.com/ragchat)"

// maxBody bounds the page size read from the network.
const maxBody = 16 << 20

var _ domain.Fetcher = (*URLFetcher)(nil)

// ErrEmptyDocument is returned when a page has no extractable text.
var ErrEmptyDocument = errors.New("source: no text content")

// URLFetcher downloads HTML pages over HTTP.
type URLFetcher struct {
	client *http.Client
}

// NewURLFetcher returns a fetcher with the given timeout (30s when zero).
func NewURLFetcher(timeout time.Duration) *URLFetcher {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &URLFetcher{client: &http.Client{Timeout: timeout}}
}

// Fetch downloads url and extracts its title and paragraph text.
func (f *URLFetcher) Fetch(ctx context.Context, url string) (domain.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.Document{}, fmt.Errorf("source: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html")
	resp, err := f.client.Do(req)
	if err != nil {
		return domain.Document{}, fmt.Errorf("source: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.Document{}, fmt.Errorf("source: fetch %s: %s", url, resp.Status)
	}
	title, text, err := Extract(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return domain.Document{}, fmt.Errorf("source: parse %s: %w", url, err)
	}
	if text == "" {
		return domain.Document{}, ErrEmptyDocument
	}
	return domain.Document{ID: documentID(url), URL: url, Title: title, Content: text}, nil
}

// Extract parses HTML and returns the page title and the text of its
// headings, paragraphs and list items, one block per line. Scripts, styles,
// tables, navigation and footnote markers are skipped.
func Extract(r io.Reader) (title, text string, err error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", "", err
	}
	var blocks []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Table, atom.Sup, atom.Nav, atom.Footer:
				return
			case atom.Title:
				if title == "" {
					title = collapse(textOf(n))
				}
				return
			case atom.P, atom.Li, atom.H1, atom.H2, atom.H3, atom.H4:
				if t := collapse(textOf(n)); t != "" {
					blocks = append(blocks, t)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title, strings.Join(blocks, "\n"), nil
}

// textOf concatenates the text nodes under n, skipping footnote markers and
// other ignored elements.
func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Sup:
				return
			}
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func documentID(url string) string {
	h := sha1.Sum([]byte(url))
	return hex.EncodeToString(h[:8])
}
