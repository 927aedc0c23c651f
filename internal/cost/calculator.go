// Package cost tracks rendering-proxy spend in billing cost units.
package cost

import (
	"sync"

	"github.com/subletwatch/subletwatch/internal/model"
)

// Rates holds per-platform proxy pricing in cost units per fetch. Stealth
// pools bill higher than premium.
type Rates struct {
	Platforms map[model.Platform]int `yaml:"platforms" mapstructure:"platforms"`
}

// DefaultRates returns the proxy billing table.
func DefaultRates() Rates {
	return Rates{
		Platforms: map[model.Platform]int{
			model.PlatformAirbnb:    25,
			model.PlatformSpareRoom: 10,
			model.PlatformGumtree:   20,
		},
	}
}

// Calculator computes estimates and accumulates actual spend for a job.
type Calculator struct {
	rates Rates

	mu    sync.Mutex
	spent int
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Fetch returns the expected cost units for one fetch on a platform.
func (c *Calculator) Fetch(platform model.Platform) int {
	return c.rates.Platforms[platform]
}

// EstimateJob returns the worst-case cost of scanning n properties across
// the given platforms, assuming both strategies run for every pair.
func (c *Calculator) EstimateJob(n int, platforms []model.Platform) int {
	perProperty := 0
	for _, p := range platforms {
		perProperty += 2 * c.rates.Platforms[p]
	}
	return n * perProperty
}

// Record adds actual billed units from a completed fetch.
func (c *Calculator) Record(units int) {
	c.mu.Lock()
	c.spent += units
	c.mu.Unlock()
}

// Spent returns the total units recorded so far.
func (c *Calculator) Spent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.spent
}
