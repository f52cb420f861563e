// Package mxmodel holds the resolution data model shared by every plugin,
// the cache store, and the downloader: Book, Chapter, Page, and the small
// value types that hang off them.
package mxmodel

import (
	"fmt"
	"net/url"
	"path"
)

// TitleAlias is an alternate title for a Book, with an optional note on
// where it came from (e.g. "romanized", "publisher listing").
type TitleAlias struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Author describes a single credited author.
type Author struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Metadata is a single free-form, labeled piece of data a plugin wants to
// attach to a Book, Chapter, or Page. Content holds any decoded JSON value,
// since its shape varies per plugin and per label.
type Metadata struct {
	Label   string `json:"label"`
	Content any    `json:"content"`
}

// Tag is a named classification, optionally carrying its own metadata.
type Tag struct {
	Name     string     `json:"name"`
	Metadata []Metadata `json:"metadata,omitempty"`
}

// LinkHint tells the lazy-link evaluator (Component I) how to pull a real
// page URL out of an intermediate HTML document: find the first element
// matching Selector and read its Attribute.
type LinkHint struct {
	Selector  string `json:"selector"`
	Attribute string `json:"attribute"`
}

// Page is a single downloadable unit within a Chapter.
type Page struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	Number   int    `json:"number"`
	Filename string `json:"filename"`

	// IntermediateLinkHint, when set, means URL points at an HTML document
	// rather than content; the real URL must be extracted via the hint.
	IntermediateLinkHint *LinkHint `json:"intermediate_link_hint,omitempty"`

	// FetchContext, when set, overrides the book/plugin-level context for
	// fetching this one page (and, transitively, for evaluating its lazy
	// link, since evaluation reuses the page's own context).
	FetchContext any `json:"fetch_context,omitempty"`

	Metadata []Metadata `json:"metadata,omitempty"`
}

// Chapter is an ordered group of Pages.
type Chapter struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	URL         string     `json:"url,omitempty"`
	Number      int        `json:"number"`
	Pages       []Page     `json:"pages"`
	Metadata    []Metadata `json:"metadata,omitempty"`
}

// Book is the top-level resolution output of a plugin: a gallery with a
// title, authorship, and an ordered hierarchy of chapters and pages.
type Book struct {
	Title        string       `json:"title"`
	TitleAliases []TitleAlias `json:"title_aliases,omitempty"`
	SourceID     string       `json:"source_id"`
	Description  string       `json:"description,omitempty"`
	Authors      []Author     `json:"authors,omitempty"`
	Chapters     []Chapter    `json:"chapters"`
	Tags         []Tag        `json:"tags,omitempty"`
	Metadata     []Metadata   `json:"metadata,omitempty"`
	URL          string       `json:"url,omitempty"`
}

// CountPages sums the number of pages across every chapter.
func (b Book) CountPages() int {
	total := 0
	for _, c := range b.Chapters {
		total += len(c.Pages)
	}
	return total
}

// RawURLs is a convenience constructor input: a flat list of page URLs that
// get turned into a single-chapter Book. Grounded on the original project's
// own mechanism for building minimal plugins (gallery-dl style adapters,
// test fixtures) from a source ID, a list of URLs, and optional tags.
type RawURLs struct {
	Title     string
	URLSource string
	URLs      []string
	Tags      []string
}

// ChapterFromRawURLs builds a single chapter whose pages are derived from a
// flat URL list: each page's filename comes from the URL's last path
// segment (URL-decoded), falling back to "{title}_{number}" when the URL
// has no usable segment; each page's title is "{title} page #{number}".
func ChapterFromRawURLs(raw RawURLs) Chapter {
	pages := make([]Page, 0, len(raw.URLs))
	for i, u := range raw.URLs {
		number := i + 1
		filename := extractFilename(u)
		if filename == "" {
			filename = fmt.Sprintf("%s_%d", raw.Title, number)
		}
		pages = append(pages, Page{
			Title:    fmt.Sprintf("%s page #%d", raw.Title, number),
			URL:      u,
			Number:   number,
			Filename: filename,
		})
	}
	return Chapter{
		Title:  raw.Title,
		URL:    raw.URLSource,
		Number: 1,
		Pages:  pages,
	}
}

// BookFromRawURLs builds a single-chapter Book around ChapterFromRawURLs,
// tagging it with raw.Tags (metadata-free, name-only tags).
func BookFromRawURLs(raw RawURLs) Book {
	tags := make([]Tag, 0, len(raw.Tags))
	for _, t := range raw.Tags {
		tags = append(tags, Tag{Name: t})
	}
	return Book{
		Title:    raw.Title,
		SourceID: raw.URLSource,
		URL:      raw.URLSource,
		Chapters: []Chapter{ChapterFromRawURLs(raw)},
		Tags:     tags,
	}
}

// extractFilename returns the URL-decoded last path segment of u, or ""
// if u has no parseable, non-empty last segment.
func extractFilename(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "" || base == "." || base == "/" {
		return ""
	}
	decoded, err := url.QueryUnescape(base)
	if err != nil {
		return base
	}
	return decoded
}

// MetadataRecord is the on-disk envelope written alongside a Book:
// download-metadata files use this shape; cache files hold a bare Book.
type MetadataRecord struct {
	Engine string `json:"engine"`
	Date   string `json:"date"`
	Book   Book   `json:"book"`
}
