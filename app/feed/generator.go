package feed

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"html"
	"strconv"
	"time"
)

type Generator struct {
	version string
}

func NewGenerator(version string) *Generator {
	return &Generator{version: version}
}

// Run serialises feed and items in the requested format.
func (g *Generator) Run(format Format, feed *Feed, items []Item) []byte {
	if format == FormatAtom {
		return g.atom(feed, items)
	}
	return g.rss(feed, items)
}

func (g *Generator) rss(feed *Feed, items []Item) []byte {
	var buf bytes.Buffer

	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	buf.WriteString("\n")
	buf.WriteString(`<rss version="2.0" xmlns:atom="http://www.w3.org/2005/Atom">`)
	buf.WriteString("\n  <channel>\n")

	g.writeElement(&buf, "title", feed.Title, 4)
	g.writeElement(&buf, "link", feed.Link, 4)
	g.writeElement(&buf, "description", feed.Description, 4)
	if feed.SelfURL != "" {
		buf.WriteString(fmt.Sprintf("    <atom:link href=\"%s\" rel=\"self\" type=\"application/rss+xml\" />\n",
			html.EscapeString(feed.SelfURL)))
	}
	g.writeElement(&buf, "language", feed.Language, 4)
	g.writeElement(&buf, "lastBuildDate", g.updated(feed, items).Format(time.RFC1123Z), 4)
	g.writeElement(&buf, "generator", "manga-reader/"+g.version, 4)
	g.writeElement(&buf, "ttl", strconv.Itoa(int(TTL/time.Minute)), 4)

	for _, item := range items {
		g.writeRSSItem(&buf, item)
	}

	buf.WriteString("  </channel>\n</rss>")

	return buf.Bytes()
}

func (g *Generator) writeRSSItem(buf *bytes.Buffer, item Item) {
	buf.WriteString("    <item>\n")

	if item.GUID != "" {
		buf.WriteString("      <guid isPermaLink=\"true\">")
		xml.EscapeText(buf, []byte(item.GUID))
		buf.WriteString("</guid>\n")
	}

	g.writeElement(buf, "title", item.Title, 6)
	g.writeElement(buf, "link", item.Link, 6)
	g.writeElement(buf, "description", item.Description, 6)
	if !item.Published.IsZero() {
		g.writeElement(buf, "pubDate", item.Published.UTC().Format(time.RFC1123Z), 6)
	}

	if len(item.Authors) > 0 {
		g.writeElement(buf, "author", item.Authors[0], 6)
	}

	for _, category := range item.Categories {
		g.writeElement(buf, "category", category, 6)
	}

	if e := item.Enclosure; e != nil && e.URL != "" && e.Type != "" {
		buf.WriteString(fmt.Sprintf("      <enclosure url=\"%s\" length=\"%d\" type=\"%s\" />\n",
			html.EscapeString(e.URL), e.Length, html.EscapeString(e.Type)))
	}

	buf.WriteString("    </item>\n")
}

func (g *Generator) atom(feed *Feed, items []Item) []byte {
	var buf bytes.Buffer

	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	buf.WriteString("\n")
	if feed.Language != "" {
		buf.WriteString(fmt.Sprintf("<feed xmlns=\"http://www.w3.org/2005/Atom\" xml:lang=\"%s\">\n",
			html.EscapeString(feed.Language)))
	} else {
		buf.WriteString("<feed xmlns=\"http://www.w3.org/2005/Atom\">\n")
	}

	g.writeElement(&buf, "title", feed.Title, 2)
	g.writeElement(&buf, "subtitle", feed.Description, 2)
	g.writeLink(&buf, "alternate", feed.Link, 2)
	g.writeLink(&buf, "self", feed.SelfURL, 2)
	g.writeElement(&buf, "id", feed.SelfURL, 2)
	g.writeElement(&buf, "updated", g.updated(feed, items).UTC().Format(time.RFC3339), 2)
	if feed.Author != "" {
		buf.WriteString("  <author>\n")
		g.writeElement(&buf, "name", feed.Author, 4)
		buf.WriteString("  </author>\n")
	}
	g.writeElement(&buf, "generator", "manga-reader", 2)

	for _, item := range items {
		g.writeAtomEntry(&buf, item)
	}

	buf.WriteString("</feed>")

	return buf.Bytes()
}

func (g *Generator) writeAtomEntry(buf *bytes.Buffer, item Item) {
	buf.WriteString("  <entry>\n")

	g.writeElement(buf, "title", item.Title, 4)
	g.writeLink(buf, "alternate", item.Link, 4)
	g.writeElement(buf, "id", item.GUID, 4)
	if !item.Published.IsZero() {
		g.writeElement(buf, "published", item.Published.UTC().Format(time.RFC3339), 4)
	}
	updated := item.Updated
	if updated.IsZero() {
		updated = item.Published
	}
	g.writeElement(buf, "updated", updated.UTC().Format(time.RFC3339), 4)

	if item.Description != "" {
		buf.WriteString("    <summary type=\"html\">")
		xml.EscapeText(buf, []byte(item.Description))
		buf.WriteString("</summary>\n")
	}

	for _, author := range item.Authors {
		buf.WriteString("    <author>\n")
		g.writeElement(buf, "name", author, 6)
		buf.WriteString("    </author>\n")
	}

	for _, category := range item.Categories {
		buf.WriteString(fmt.Sprintf("    <category term=\"%s\" />\n", html.EscapeString(category)))
	}

	if e := item.Enclosure; e != nil && e.URL != "" {
		buf.WriteString(fmt.Sprintf("    <link rel=\"enclosure\" href=\"%s\" length=\"%d\" type=\"%s\" />\n",
			html.EscapeString(e.URL), e.Length, html.EscapeString(e.Type)))
	}

	buf.WriteString("  </entry>\n")
}

func (g *Generator) updated(feed *Feed, items []Item) time.Time {
	if !feed.Updated.IsZero() {
		return feed.Updated
	}
	return LastModified(items)
}

func (g *Generator) writeLink(buf *bytes.Buffer, rel, href string, indent int) {
	if href == "" {
		return
	}
	for i := 0; i < indent; i++ {
		buf.WriteByte(' ')
	}
	buf.WriteString(fmt.Sprintf("<link rel=\"%s\" href=\"%s\" />\n", rel, html.EscapeString(href)))
}

func (g *Generator) writeElement(buf *bytes.Buffer, tag, content string, indent int) {
	if content == "" {
		return
	}

	for i := 0; i < indent; i++ {
		buf.WriteByte(' ')
	}

	buf.WriteString("<")
	buf.WriteString(tag)
	buf.WriteString(">")
	xml.EscapeText(buf, []byte(content))
	buf.WriteString("</")
	buf.WriteString(tag)
	buf.WriteString(">\n")
}
