package models

// Source is one allow-listed feed from the registry. Sources are owned
// externally and never mutated during a run.
type Source struct {
	ID         string `yaml:"id" json:"id"`
	Name       string `yaml:"name" json:"name"`
	FeedURL    string `yaml:"feed_url" json:"feed_url"`
	BaseDomain string `yaml:"base_domain" json:"base_domain"`
	Active     bool   `yaml:"active" json:"active"`
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Language   string `yaml:"language" json:"language"`
}
