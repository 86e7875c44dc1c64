package feed

import (
	"html"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/citynews/pulse/internal/models"
	"github.com/mmcdole/gofeed"
)

const excerptLimit = 500

// Parser cleans and normalizes parsed feed entries
type Parser struct {
	htmlTagRegex *regexp.Regexp
}

func NewParser() *Parser {
	return &Parser{
		htmlTagRegex: regexp.MustCompile(`<[^>]*>`),
	}
}

// Convert turns a gofeed item into a FeedItem. Items without a title or a
// resolvable link are dropped.
func (p *Parser) Convert(src models.Source, raw *gofeed.Item) (models.FeedItem, bool) {
	title := p.CleanHTML(raw.Title)
	link := strings.TrimSpace(raw.Link)
	if title == "" || link == "" {
		return models.FeedItem{}, false
	}

	content := raw.Content
	if content == "" {
		content = raw.Description
	}

	published := time.Now().UTC()
	if raw.PublishedParsed != nil {
		published = raw.PublishedParsed.UTC()
	} else if raw.UpdatedParsed != nil {
		published = raw.UpdatedParsed.UTC()
	}

	primary, candidates := ExtractImages(raw, content)

	return models.FeedItem{
		SourceID:        src.ID,
		Title:           title,
		URL:             link,
		GUID:            strings.TrimSpace(raw.GUID),
		Excerpt:         p.Excerpt(content),
		ContentText:     p.CleanHTML(content),
		PublishedAt:     published,
		Language:        src.Language,
		ImageURL:        primary,
		ImageCandidates: candidates,
	}, true
}

// CleanHTML removes HTML tags and normalizes whitespace
func (p *Parser) CleanHTML(input string) string {
	cleaned := p.htmlTagRegex.ReplaceAllString(input, " ")
	cleaned = html.UnescapeString(cleaned)
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	return strings.TrimSpace(cleaned)
}

// Excerpt returns cleaned text cut at a sentence boundary near the limit
func (p *Parser) Excerpt(input string) string {
	text := p.CleanHTML(input)
	if len(text) <= excerptLimit {
		return text
	}

	cut := text[:excerptLimit]
	// back up to a rune boundary so multi-byte text is never split
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	if idx := strings.LastIndex(cut, ". "); idx > excerptLimit/2 {
		return cut[:idx+1]
	}
	return cut + "…"
}
