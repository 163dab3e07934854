// Package parser extracts the catalog fields from a fetched details page.
// A page is expected to carry a document title and a "download-header"
// section whose heading names the download.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// Default selectors for the catalog layout
const (
	DefaultSectionSelector = "div.download-header"
	DefaultHeadingSelector = "h2"
)

// ErrMissingSection is returned when the page has no download-header section
// (or the section has no heading). The title is still returned when present.
var ErrMissingSection = errors.New("download-header section not found")

// Fields contains the values extracted from a details page
type Fields struct {
	Title          string
	DownloadHeader string
}

// Extractor pulls Fields out of an HTML document
type Extractor struct {
	title   goquery.Matcher
	section goquery.Matcher
	heading goquery.Matcher
}

// NewExtractor creates an extractor for the default catalog layout
func NewExtractor() *Extractor {
	e, err := NewExtractorWithSelectors(DefaultSectionSelector, DefaultHeadingSelector)
	if err != nil {
		// default selectors are constants
		panic(err)
	}
	return e
}

// NewExtractorWithSelectors creates an extractor with custom CSS selectors
// for the header section and the heading inside it.
func NewExtractorWithSelectors(section, heading string) (*Extractor, error) {
	sectionSel, err := cascadia.Compile(section)
	if err != nil {
		return nil, fmt.Errorf("invalid section selector %q: %w", section, err)
	}
	headingSel, err := cascadia.Compile(heading)
	if err != nil {
		return nil, fmt.Errorf("invalid heading selector %q: %w", heading, err)
	}

	return &Extractor{
		title:   cascadia.MustCompile("title"),
		section: sectionSel,
		heading: headingSel,
	}, nil
}

// Extract parses htmlContent and returns the document title and the text of
// the heading inside the download-header section.
func (e *Extractor) Extract(htmlContent []byte) (Fields, error) {
	root, err := html.Parse(bytes.NewReader(htmlContent))
	if err != nil {
		return Fields{}, fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc := goquery.NewDocumentFromNode(root)

	var fields Fields
	fields.Title = normalizeText(doc.FindMatcher(e.title).First().Text())

	section := doc.FindMatcher(e.section).First()
	if section.Length() == 0 {
		return fields, ErrMissingSection
	}

	heading := section.FindMatcher(e.heading).First()
	if heading.Length() == 0 {
		return fields, ErrMissingSection
	}

	fields.DownloadHeader = normalizeText(heading.Text())
	return fields, nil
}

// normalizeText collapses runs of whitespace left over from page markup
func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
