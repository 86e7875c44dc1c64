package enrich

import (
	"net/url"
	"strings"
)

// nonContentPatterns mark URLs that are never the story image: site
// furniture, ads and tracking pixels
var nonContentPatterns = []string{
	"logo", "icon", "favicon", "sprite", "avatar", "placeholder",
	"banner", "/ads/", "advert", "doubleclick", "pixel", "track",
	"1x1", "spacer", "blank.",
}

var preferredExtensions = map[string]int{
	".jpg": 3, ".jpeg": 3, ".webp": 3, ".png": 2, ".gif": 1,
}

// SelectImage filters non-content candidates and ranks the rest. Empty
// string means no usable image.
func SelectImage(candidates []string) string {
	best := ""
	bestScore := -1

	for _, raw := range candidates {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			continue
		}

		lower := strings.ToLower(raw)
		if isNonContent(lower) {
			continue
		}

		score := 0
		for ext, v := range preferredExtensions {
			if strings.HasSuffix(strings.ToLower(u.Path), ext) {
				score += v
				break
			}
		}
		if strings.Contains(lower, "media") || strings.Contains(lower, "image") {
			score++
		}
		// Many CDNs encode dimensions in the URL; big numbers hint at a real photo
		if strings.Contains(lower, "1200") || strings.Contains(lower, "1024") || strings.Contains(lower, "800") {
			score++
		}

		if score > bestScore {
			best = raw
			bestScore = score
		}
	}

	return best
}

func isNonContent(lowerURL string) bool {
	for _, p := range nonContentPatterns {
		if strings.Contains(lowerURL, p) {
			return true
		}
	}
	return false
}
