// Package opml reads and writes OPML subscription lists for livemark import
// and export.
package opml

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	version        = "2.0"
	categoryJoiner = "/"
)

// Subscription is one feed outline. SiteURL comes from htmlUrl; Category is
// the slash-joined titles of the folder outlines enclosing the feed.
type Subscription struct {
	Title    string
	URL      string
	SiteURL  string
	Category string
}

var errNotOPML = errors.New("invalid OPML: expected root <opml>")

type document struct {
	XMLName xml.Name  `xml:"opml"`
	Version string    `xml:"version,attr,omitempty"`
	Title   string    `xml:"head>title,omitempty"`
	Body    []outline `xml:"body>outline"`
}

type outline struct {
	Text     string    `xml:"text,attr,omitempty"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
	Children []outline `xml:"outline,omitempty"`

	// Lowercase and bare url spellings written by some exporters.
	LowerXMLURL string `xml:"xmlurl,attr,omitempty"`
	BareURL     string `xml:"url,attr,omitempty"`
}

func (o *outline) feedURL() string {
	return firstNonBlank(o.XMLURL, o.LowerXMLURL, o.BareURL)
}

func (o *outline) label() string {
	return firstNonBlank(o.Title, o.Text)
}

// Parse returns every feed outline in document order, however deeply nested.
func Parse(r io.Reader) ([]Subscription, error) {
	var doc document
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		var unexpected xml.UnmarshalError
		if errors.As(err, &unexpected) {
			return nil, errNotOPML
		}
		return nil, fmt.Errorf("invalid OPML: %w", err)
	}

	subs := []Subscription{}
	walk(doc.Body, nil, &subs)

	return subs, nil
}

func walk(outlines []outline, path []string, subs *[]Subscription) {
	for i := range outlines {
		o := &outlines[i]

		feedURL := o.feedURL()
		if feedURL == "" {
			next := path
			if label := o.label(); label != "" {
				next = append(path[:len(path):len(path)], label)
			}
			walk(o.Children, next, subs)
			continue
		}

		title := o.label()
		if title == "" {
			title = feedURL
		}

		*subs = append(*subs, Subscription{
			Title:    title,
			URL:      feedURL,
			SiteURL:  strings.TrimSpace(o.HTMLURL),
			Category: strings.Join(path, categoryJoiner),
		})
	}
}

// Write emits subscriptions as an OPML 2.0 document. Subscriptions sharing a
// category are grouped under one folder outline placed where the category
// first appears; entries without a feed URL are dropped.
func Write(w io.Writer, title string, subs []Subscription) error {
	doc := document{
		Version: version,
		Title:   strings.TrimSpace(title),
		Body:    groupOutlines(subs),
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("write OPML header: %w", err)
	}

	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")

	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode OPML: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close OPML encoder: %w", err)
	}

	_, err := io.WriteString(w, "\n")
	return err
}

func groupOutlines(subs []Subscription) []outline {
	var top []outline
	folders := map[string]int{}

	for _, sub := range subs {
		feedURL := strings.TrimSpace(sub.URL)
		if feedURL == "" {
			continue
		}

		label := firstNonBlank(sub.Title, feedURL)
		entry := outline{
			Text:    label,
			Title:   label,
			Type:    "rss",
			XMLURL:  feedURL,
			HTMLURL: strings.TrimSpace(sub.SiteURL),
		}

		category := strings.TrimSpace(sub.Category)
		if category == "" {
			top = append(top, entry)
			continue
		}

		idx, ok := folders[category]
		if !ok {
			idx = len(top)
			folders[category] = idx
			top = append(top, outline{Text: category, Title: category})
		}
		top[idx].Children = append(top[idx].Children, entry)
	}

	return top
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
