package sources

import (
	"fmt"
	"os"

	"github.com/citynews/pulse/internal/models"
	"gopkg.in/yaml.v3"
)

// registryFile is the YAML layout:
//
// sources:
//   - id: dr
//     name: DR Nyheder
//     feed_url: https://www.dr.dk/nyheder/service/feeds/allenyheder
//     base_domain: dr.dk
//     language: da
//     active: true
//     enabled: true
type registryFile struct {
	Sources []models.Source `yaml:"sources"`
}

// Load reads the source registry from a YAML file
func Load(path string) ([]models.Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source registry: %w", err)
	}
	defer f.Close()

	var file registryFile
	if err := yaml.NewDecoder(f).Decode(&file); err != nil {
		return nil, fmt.Errorf("decode source registry: %w", err)
	}

	for i, s := range file.Sources {
		if s.ID == "" || s.FeedURL == "" {
			return nil, fmt.Errorf("source registry entry %d: id and feed_url are required", i)
		}
	}

	return file.Sources, nil
}

// Enabled filters out inactive or disabled sources
func Enabled(all []models.Source) []models.Source {
	out := make([]models.Source, 0, len(all))
	for _, s := range all {
		if s.Active && s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// ByLanguage groups enabled sources by language code
func ByLanguage(all []models.Source) map[string][]models.Source {
	out := make(map[string][]models.Source)
	for _, s := range Enabled(all) {
		out[s.Language] = append(out[s.Language], s)
	}
	return out
}
