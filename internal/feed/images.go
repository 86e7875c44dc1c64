package feed

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

var inlineImgRegex = regexp.MustCompile(`<img[^>]+src=["']([^"']+)["']`)

// ExtractImages collects image candidates for a feed item, in preference
// order: feed-level image, media:content / media:thumbnail extensions,
// image enclosures, then inline HTML imgs via goquery with a regex fallback.
func ExtractImages(raw *gofeed.Item, htmlContent string) (string, []string) {
	var candidates []string
	seen := make(map[string]bool)

	add := func(u string) {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] || !strings.HasPrefix(u, "http") {
			return
		}
		seen[u] = true
		candidates = append(candidates, u)
	}

	if raw.Image != nil {
		add(raw.Image.URL)
	}

	if media, ok := raw.Extensions["media"]; ok {
		for _, key := range []string{"content", "thumbnail"} {
			for _, ext := range media[key] {
				add(ext.Attrs["url"])
			}
		}
	}

	for _, enc := range raw.Enclosures {
		if strings.HasPrefix(enc.Type, "image/") {
			add(enc.URL)
		}
	}

	for _, u := range inlineImages(htmlContent) {
		add(u)
	}

	if len(candidates) == 0 {
		return "", nil
	}
	return candidates[0], candidates
}

// inlineImages parses an HTML fragment for img tags. goquery handles the
// well-formed case; a regex catches fragments goquery cannot build a tree for.
func inlineImages(htmlContent string) []string {
	if !strings.Contains(htmlContent, "<img") {
		return nil
	}

	var urls []string
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err == nil {
		doc.Find("img").Each(func(_ int, sel *goquery.Selection) {
			if src, ok := sel.Attr("src"); ok {
				urls = append(urls, src)
			}
		})
	}

	if len(urls) == 0 {
		for _, m := range inlineImgRegex.FindAllStringSubmatch(htmlContent, -1) {
			urls = append(urls, m[1])
		}
	}
	return urls
}
