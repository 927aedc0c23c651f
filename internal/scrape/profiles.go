// Package scrape executes search strategies through the rendering proxy and
// assembles the per-pair attempt history.
package scrape

import (
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/subletwatch/subletwatch/internal/model"
	"github.com/subletwatch/subletwatch/pkg/scrapingbee"
)

// Profile is the per-platform fetch configuration. Stealth tiers and longer
// render waits go to the platforms with the heaviest anti-bot defenses.
type Profile struct {
	WaitMS    int                   `yaml:"wait_ms"`
	ProxyTier scrapingbee.ProxyTier `yaml:"proxy_tier"`
	// SessionIsolation pins each fetch to a fresh proxy session so repeated
	// map searches don't share fingerprintable state.
	SessionIsolation bool `yaml:"session_isolation"`
	CostUnits        int  `yaml:"cost_units"`
}

// DefaultProfiles returns the fetch configuration table.
func DefaultProfiles() map[model.Platform]Profile {
	return map[model.Platform]Profile{
		model.PlatformAirbnb: {
			WaitMS:           4000,
			ProxyTier:        scrapingbee.TierStealth,
			SessionIsolation: true,
			CostUnits:        25,
		},
		model.PlatformSpareRoom: {
			WaitMS:    3500,
			ProxyTier: scrapingbee.TierPremium,
			CostUnits: 10,
		},
		model.PlatformGumtree: {
			WaitMS:    4000,
			ProxyTier: scrapingbee.TierStealth,
			CostUnits: 20,
		},
	}
}

// LoadProfiles overlays YAML overrides on the default table. Platforms
// absent from the document keep their defaults.
func LoadProfiles(data []byte) (map[model.Platform]Profile, error) {
	profiles := DefaultProfiles()
	if len(data) == 0 {
		return profiles, nil
	}

	var overrides map[model.Platform]Profile
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, eris.Wrap(err, "scrape: parse profile overrides")
	}
	for platform, p := range overrides {
		if _, known := profiles[platform]; !known {
			return nil, eris.Errorf("scrape: unknown platform in overrides: %s", platform)
		}
		profiles[platform] = p
	}
	return profiles, nil
}
