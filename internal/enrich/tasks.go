package enrich

import (
	"regexp"
	"strings"
)

// Task kinds, used for metrics and the circuit breaker
const (
	TaskCategorize = "categorize"
	TaskSummarize  = "summarize"
	TaskTranslate  = "translate"
	TaskSEO        = "seo"
	TaskImage      = "image"
)

// Topics is the fixed categorization set. TopicFallback is assigned when
// categorization fails or returns something outside the set.
var Topics = []string{
	"politics", "economy", "crime", "culture", "sports",
	"weather", "transport", "health", "technology", "society",
}

const TopicFallback = "general"

// NormalizeTopic maps an LLM answer onto the fixed set
func NormalizeTopic(topic string) string {
	topic = strings.ToLower(strings.TrimSpace(topic))
	for _, t := range Topics {
		if topic == t {
			return t
		}
	}
	return TopicFallback
}

var slugAllowed = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify turns a headline into a URL slug
func Slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugAllowed.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > 80 {
		s = s[:80]
		if idx := strings.LastIndex(s, "-"); idx > 40 {
			s = s[:idx]
		}
	}
	return s
}
