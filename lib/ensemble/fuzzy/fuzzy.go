package fuzzy

import (
	"fmt"
	"math"
	"time"
)

// Config bounds the intervals the controller can produce
type Config struct {
	// Baseline is the shortest interval
	Baseline time.Duration `json:"baseline" yaml:"baseline"`
	// Increment is the step the previous interval moves by per unit of rule output
	Increment time.Duration `json:"increment" yaml:"increment"`
	// Limit is the longest interval
	Limit time.Duration `json:"limit" yaml:"limit"`
}

// DefaultConfig polls at least every minute and at most every five seconds
func DefaultConfig() Config {
	return Config{
		Baseline:  5 * time.Second,
		Increment: 10 * time.Second,
		Limit:     60 * time.Second,
	}
}

// Validate checks the band is non-empty and small enough for the output to grow
// with the previous interval.
func (c Config) Validate() error {
	if c.Baseline <= 0 || c.Increment <= 0 {
		return fmt.Errorf("baseline and increment must be positive")
	}
	if c.Limit <= c.Baseline {
		return fmt.Errorf("limit (%s) must be greater than baseline (%s)", c.Limit, c.Baseline)
	}
	if float64(c.Increment)*maxSpread >= float64(c.Limit-c.Baseline) {
		return fmt.Errorf("increment (%s) too large for band [%s, %s]", c.Increment, c.Baseline, c.Limit)
	}
	return nil
}

// ----------------------------------------------------------------------------
// Fuzzy sets
// ----------------------------------------------------------------------------

// Set is a membership function
type Set func(x float64) float64

// Triangle rises from a to peak b and falls to zero at c
func Triangle(a, b, c float64) Set {
	return func(x float64) float64 {
		switch {
		case x <= a || x >= c:
			return 0
		case x <= b:
			return (x - a) / (b - a)
		default:
			return (c - x) / (c - b)
		}
	}
}

// ShoulderLeft is 1 up to a and falls to zero at b
func ShoulderLeft(a, b float64) Set {
	return func(x float64) float64 {
		switch {
		case x <= a:
			return 1
		case x >= b:
			return 0
		default:
			return (b - x) / (b - a)
		}
	}
}

// ShoulderRight is 0 up to a and rises to one at b
func ShoulderRight(a, b float64) Set {
	return func(x float64) float64 {
		return 1 - ShoulderLeft(a, b)(x)
	}
}

// change sets, in percent
var (
	changeNone   = ShoulderLeft(0, 5)
	changeLow    = Triangle(0, 5, 15)
	changeMedium = Triangle(5, 15, 30)
	changeHigh   = ShoulderRight(15, 30)
)

// rule maps one change set to the consequents for short and long previous intervals
type rule struct {
	name        string
	change      Set
	short, long float64
}

var rules = []rule{
	{"none", changeNone, 1.0, 1.0},
	{"low", changeLow, -0.5, -1.0},
	{"medium", changeMedium, -1.0, -1.5},
	{"high", changeHigh, -1.5, -2.0},
}

// maxSpread is the largest difference between the short and long consequent of a rule
const maxSpread = 0.5

// ----------------------------------------------------------------------------
// Controller
// ----------------------------------------------------------------------------

// Controller evaluates the rule table for a fixed Config
type Controller struct {
	cfg Config
}

// NewController creates a controller. The config is validated.
func NewController(cfg Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Controller{cfg: cfg}, nil
}

// Config returns the bounds of the controller
func (c *Controller) Config() Config {
	return c.cfg
}

// shortness is the membership of previous in the short set
func (c *Controller) shortness(previous time.Duration) float64 {
	return ShoulderLeft(float64(c.cfg.Baseline), float64(c.cfg.Limit))(float64(previous))
}

// Factor returns the defuzzified rule output, the multiple of Increment to add
func (c *Controller) Factor(change float64, previous time.Duration) float64 {
	change = math.Max(0, math.Min(100, change))
	short := c.shortness(previous)
	long := 1 - short

	var weighted, total float64
	for _, r := range rules {
		mu := r.change(change)
		if mu == 0 {
			continue
		}
		weighted += mu*short*r.short + mu*long*r.long
		total += mu
	}
	if total == 0 {
		return 0
	}
	return weighted / total
}

// Next returns the interval to wait before the next poll
func (c *Controller) Next(change float64, previous time.Duration) time.Duration {
	next := float64(previous) + c.Factor(change, previous)*float64(c.cfg.Increment)
	next = math.Max(float64(c.cfg.Baseline), math.Min(float64(c.cfg.Limit), next))
	return time.Duration(math.Round(next))
}
