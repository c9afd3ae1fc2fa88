// Package sanitize strips active content from HTML before it is rendered.
package sanitize

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/czhmisaka/Html2Img/internal/model"
	"golang.org/x/net/html"
)

// Options selects what Sanitize removes in addition to <script> elements
type Options struct {
	RemoveEventHandlers bool     `json:"removeEventHandlers,omitempty"`
	RemoveTags          []string `json:"removeTags,omitempty"`
}

// IsZero reports whether o only asks for the default script removal.
func (o Options) IsZero() bool {
	return !o.RemoveEventHandlers && len(o.RemoveTags) == 0
}

// Sanitize parses markup leniently, removes every <script>, optionally every
// on* attribute and every element matching one of RemoveTags, and
// serializes the document again. Nothing else is touched.
func Sanitize(markup string, opts Options) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", model.ErrSanitizeFailure, r)
		}
	}()

	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return "", fmt.Errorf("%w: parse: %v", model.ErrSanitizeFailure, err)
	}
	doc := goquery.NewDocumentFromNode(root)

	doc.Find("script").Remove()

	if opts.RemoveEventHandlers {
		doc.Find("*").Each(func(_ int, sel *goquery.Selection) {
			removeEventHandlers(sel)
		})
	}

	// An unparsable selector matches nothing, so a bad tag name is a no-op.
	for _, tag := range opts.RemoveTags {
		if tag = strings.TrimSpace(tag); tag != "" {
			doc.Find(tag).Remove()
		}
	}

	out, err = doc.Html()
	if err != nil {
		return "", fmt.Errorf("%w: serialize: %v", model.ErrSanitizeFailure, err)
	}
	return out, nil
}

func removeEventHandlers(sel *goquery.Selection) {
	for _, node := range sel.Nodes {
		kept := node.Attr[:0]
		for _, attr := range node.Attr {
			if !strings.HasPrefix(strings.ToLower(attr.Key), "on") {
				kept = append(kept, attr)
			}
		}
		node.Attr = kept
	}
}
