package crawler

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// idPlaceholder marks where the ID goes in a custom URL template. The
// printf-style %d is accepted as an alias.
const (
	idPlaceholder     = "{id}"
	printfPlaceholder = "%d"
)

// URLTemplate turns an ID into the catalog URL for that ID
type URLTemplate struct {
	base *url.URL
	raw  string // set when the template carries an explicit placeholder
}

// NewURLTemplate accepts either a page URL, to which ?id=<n> is added, or a
// string containing the {id} or %d placeholder.
func NewURLTemplate(base string) (URLTemplate, error) {
	if hasIDPlaceholder(base) {
		raw := strings.ReplaceAll(base, printfPlaceholder, idPlaceholder)
		u, err := url.Parse(strings.ReplaceAll(raw, idPlaceholder, "0"))
		if err != nil {
			return URLTemplate{}, fmt.Errorf("invalid URL template: %w", err)
		}
		if u.Scheme == "" || u.Host == "" {
			return URLTemplate{}, fmt.Errorf("invalid URL template %q: scheme and host are required", base)
		}
		return URLTemplate{raw: raw}, nil
	}

	u, err := url.Parse(base)
	if err != nil {
		return URLTemplate{}, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return URLTemplate{}, fmt.Errorf("invalid base URL %q: scheme and host are required", base)
	}
	return URLTemplate{base: u}, nil
}

// hasIDPlaceholder reports whether base marks the ID position explicitly
func hasIDPlaceholder(base string) bool {
	return strings.Contains(base, idPlaceholder) || strings.Contains(base, printfPlaceholder)
}

// URL returns the page URL for id
func (t URLTemplate) URL(id int64) string {
	s := strconv.FormatInt(id, 10)
	if t.raw != "" {
		return strings.ReplaceAll(t.raw, idPlaceholder, s)
	}

	u := *t.base
	q := u.Query()
	q.Set("id", s)
	u.RawQuery = q.Encode()
	return u.String()
}
