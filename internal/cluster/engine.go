package cluster

import (
	"strings"
	"time"
	"unicode"

	"github.com/citynews/pulse/internal/logger"
	"github.com/citynews/pulse/internal/models"
	"github.com/google/uuid"
)

// Engine groups claimed articles into event clusters by token overlap over
// title+excerpt. It never calls external services; it operates purely on
// already-fetched text.
type Engine struct {
	window    time.Duration
	threshold float64
}

// Assignment is the engine's verdict for one article
type Assignment struct {
	Article   models.Article
	ClusterID string
	// Created is set when this article founded a new cluster
	Created bool
	// Cluster carries the new cluster record when Created is true
	Cluster models.Cluster
}

type candidate struct {
	id       string
	language string
	tokens   map[string]bool
	lastSeen time.Time
}

func NewEngine(window time.Duration, threshold float64) *Engine {
	return &Engine{window: window, threshold: threshold}
}

// Assign matches each article against open clusters in the recency window.
// The highest-scoring cluster above the threshold wins; ties go to the most
// recently updated cluster. Clusters founded earlier in the same pass are
// candidates for later articles.
func (e *Engine) Assign(now time.Time, articles []models.Article, open []models.Cluster) []Assignment {
	log := logger.Get()

	candidates := make([]*candidate, 0, len(open))
	for _, c := range open {
		if now.Sub(c.LastSeenAt) > e.window {
			continue
		}
		candidates = append(candidates, &candidate{
			id:       c.ID,
			language: c.Language,
			tokens:   Tokenize(c.Headline, c.Language),
			lastSeen: c.LastSeenAt,
		})
	}

	out := make([]Assignment, 0, len(articles))
	for _, a := range articles {
		tokens := Tokenize(a.Title+" "+a.ContentExcerpt, a.Lang)
		seenAt := a.PublishedAt
		if seenAt.IsZero() {
			seenAt = now
		}

		var best *candidate
		var bestScore float64
		for _, c := range candidates {
			if c.language != a.Lang {
				continue
			}
			score := Similarity(tokens, c.tokens)
			if score < e.threshold {
				continue
			}
			if best == nil || score > bestScore ||
				(score == bestScore && c.lastSeen.After(best.lastSeen)) {
				best = c
				bestScore = score
			}
		}

		if best != nil {
			log.Debug().
				Int64("article", a.ID).
				Str("cluster", best.id).
				Float64("score", bestScore).
				Msg("Article joined cluster")

			// Grow the cluster's vocabulary so follow-ups match it too
			for t := range tokens {
				best.tokens[t] = true
			}
			if seenAt.After(best.lastSeen) {
				best.lastSeen = seenAt
			}
			out = append(out, Assignment{Article: a, ClusterID: best.id})
			continue
		}

		created := models.Cluster{
			ID:           uuid.NewString(),
			Headline:     a.Title,
			Language:     a.Lang,
			Status:       models.ClusterStatusDraft,
			SourceCount:  1,
			ArticleCount: 1,
			FirstSeenAt:  seenAt,
			LastSeenAt:   seenAt,
		}
		candidates = append(candidates, &candidate{
			id:       created.ID,
			language: created.Language,
			tokens:   tokens,
			lastSeen: seenAt,
		})
		out = append(out, Assignment{
			Article:   a,
			ClusterID: created.ID,
			Created:   true,
			Cluster:   created,
		})
	}

	return out
}

// stopwords per language, kept deliberately small: scoring only needs the
// high-frequency glue words gone
var stopwords = map[string]map[string]bool{
	"en": wordSet("a an the and or of in on at to for with from by is are was were be as it this that"),
	"da": wordSet("og i på til af med for er der om en et ikke den det de han hun som har ved"),
	"uk": wordSet("і в на до з за у та що це як для про не він вона"),
}

func wordSet(words string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(words) {
		set[w] = true
	}
	return set
}

// Tokenize lowercases, strips punctuation and stopwords, and returns the
// significant-token set of a text
func Tokenize(text, lang string) map[string]bool {
	var b []rune
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			b = append(b, r)
		} else {
			b = append(b, ' ')
		}
	}

	stops := stopwords[lang]
	tokens := make(map[string]bool)
	for _, w := range strings.Fields(string(b)) {
		if len([]rune(w)) < 2 || stops[w] {
			continue
		}
		tokens[w] = true
	}
	return tokens
}

// Similarity is the overlap coefficient of two token sets: shared tokens
// over the smaller set. It stays stable as a cluster's vocabulary grows.
func Similarity(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}

	shared := 0
	for t := range small {
		if large[t] {
			shared++
		}
	}
	return float64(shared) / float64(len(small))
}
