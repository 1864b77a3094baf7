package feed

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/mmcdole/gofeed"
)

// Parser reads Atom and RSS documents back into Feed and Item values.
type Parser struct {
	gofeedParser *gofeed.Parser
}

func NewParser() *Parser {
	return &Parser{
		gofeedParser: gofeed.NewParser(),
	}
}

func (p *Parser) Run(data []byte) (*Feed, []Item, error) {
	parsed, err := p.gofeedParser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	feed := &Feed{
		Title:       parsed.Title,
		Link:        parsed.Link,
		SelfURL:     parsed.FeedLink,
		Description: parsed.Description,
		Language:    parsed.Language,
	}
	if len(parsed.Authors) > 0 && parsed.Authors[0] != nil {
		feed.Author = parsed.Authors[0].Name
	}
	if parsed.UpdatedParsed != nil {
		feed.Updated = parsed.UpdatedParsed.UTC()
	}

	items := make([]Item, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		items = append(items, p.normalizeItem(item))
	}

	return feed, items, nil
}

func (p *Parser) normalizeItem(item *gofeed.Item) Item {
	normalized := Item{
		GUID:        item.GUID,
		Title:       item.Title,
		Link:        item.Link,
		Description: item.Description,
		Categories:  item.Categories,
	}

	if item.PublishedParsed != nil {
		normalized.Published = item.PublishedParsed.UTC()
	}
	if item.UpdatedParsed != nil {
		normalized.Updated = item.UpdatedParsed.UTC()
	}

	for _, author := range item.Authors {
		if author != nil && author.Name != "" {
			normalized.Authors = append(normalized.Authors, author.Name)
		}
	}

	if len(item.Enclosures) > 0 && item.Enclosures[0] != nil {
		enclosure := item.Enclosures[0]
		normalized.Enclosure = &Enclosure{URL: enclosure.URL, Type: enclosure.Type}
		if length, err := strconv.ParseInt(enclosure.Length, 10, 64); err == nil {
			normalized.Enclosure.Length = length
		}
	}

	return normalized
}
