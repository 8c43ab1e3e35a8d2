package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"promotion-engine-api/internal/models"
)

// SeedFile is the YAML layout of a catalog seed:
//
//	tenants:
//	  - id: acme
//	    promotions:
//	      - id: SPRING10
//	        type: discount_percent
//	        discount_percent: "10"
//	        target_type: all
//	        is_active: true
type SeedFile struct {
	Tenants []SeedTenant `yaml:"tenants"`
}

// SeedTenant holds the promotions of one tenant.
type SeedTenant struct {
	ID         string                   `yaml:"id"`
	Promotions []models.PromotionRecord `yaml:"promotions"`
}

// LoadSeed reads a catalog seed file.
func LoadSeed(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read seed: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes a catalog seed document.
func ParseSeed(data []byte) (*SeedFile, error) {
	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("catalog: parse seed: %w", err)
	}
	for i, t := range seed.Tenants {
		if t.ID == "" {
			return nil, fmt.Errorf("catalog: seed tenant %d has no id", i)
		}
	}
	return &seed, nil
}
