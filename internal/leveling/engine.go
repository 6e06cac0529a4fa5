// Package leveling converts between accumulated XP and levels. It does no I/O.
//
// Levels come either from the formula floor(BaseXP * level^Curve) or from a
// threshold table mapping selected levels to required XP. With Interpolate set,
// levels between two configured thresholds are derived linearly. The inverse
// at those interpolated levels is floored, so LevelForXP(XPForLevel(L)) == L is
// only guaranteed for configured threshold levels.
package leveling

import (
	"fmt"
	"math"
	"sort"
)

// DefaultMaxLevel is used when Config.MaxLevel is zero.
const DefaultMaxLevel = 100

// Config describes the leveling curve.
type Config struct {
	BaseXP      float64       `yaml:"base_xp" env:"LEVELBOT_BASE_XP"`
	Curve       float64       `yaml:"curve" env:"LEVELBOT_CURVE"`
	MaxLevel    int           `yaml:"max_level" env:"LEVELBOT_MAX_LEVEL"`
	Interpolate bool          `yaml:"interpolate" env:"LEVELBOT_INTERPOLATE"`
	Thresholds  map[int]int64 `yaml:"thresholds"`
}

// DefaultConfig returns the formula-only curve.
func DefaultConfig() Config {
	return Config{
		BaseXP:   100,
		Curve:    1.5,
		MaxLevel: DefaultMaxLevel,
	}
}

type threshold struct {
	level int
	xp    int64
}

// Engine is an immutable, validated leveling curve. It is safe for
// concurrent use.
type Engine struct {
	baseXP      float64
	curve       float64
	maxLevel    int
	interpolate bool
	thresholds  []threshold // sorted by level
}

// New validates cfg and builds an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.MaxLevel == 0 {
		cfg.MaxLevel = DefaultMaxLevel
	}
	if cfg.MaxLevel < 1 {
		return nil, fmt.Errorf("max level must be positive, got %d", cfg.MaxLevel)
	}
	if cfg.BaseXP <= 0 || math.IsNaN(cfg.BaseXP) || math.IsInf(cfg.BaseXP, 0) {
		return nil, fmt.Errorf("base xp must be positive, got %v", cfg.BaseXP)
	}
	if cfg.Curve <= 0 || math.IsNaN(cfg.Curve) || math.IsInf(cfg.Curve, 0) {
		return nil, fmt.Errorf("curve must be positive, got %v", cfg.Curve)
	}

	e := &Engine{
		baseXP:   cfg.BaseXP,
		curve:    cfg.Curve,
		maxLevel: cfg.MaxLevel,
	}

	for level, xp := range cfg.Thresholds {
		if level < 0 || level > cfg.MaxLevel {
			return nil, fmt.Errorf("threshold level %d outside [0, %d]", level, cfg.MaxLevel)
		}
		if xp < 0 {
			return nil, fmt.Errorf("threshold for level %d has negative xp %d", level, xp)
		}
		e.thresholds = append(e.thresholds, threshold{level: level, xp: xp})
	}
	sort.Slice(e.thresholds, func(i, j int) bool {
		return e.thresholds[i].level < e.thresholds[j].level
	})
	for i := 1; i < len(e.thresholds); i++ {
		if e.thresholds[i].xp <= e.thresholds[i-1].xp {
			return nil, fmt.Errorf("threshold xp must increase with level: level %d needs %d, level %d needs %d",
				e.thresholds[i-1].level, e.thresholds[i-1].xp, e.thresholds[i].level, e.thresholds[i].xp)
		}
	}

	// A single entry has nothing to interpolate between.
	e.interpolate = cfg.Interpolate && len(e.thresholds) > 1

	return e, nil
}

// MaxLevel returns the highest reachable level.
func (e *Engine) MaxLevel() int {
	return e.maxLevel
}

// UsesThresholds reports whether a threshold table is configured.
func (e *Engine) UsesThresholds() bool {
	return len(e.thresholds) > 0
}

// XPForLevel returns the cumulative XP required to reach level, which is
// clamped to [0, MaxLevel].
func (e *Engine) XPForLevel(level int) int64 {
	level = e.clamp(level)
	if len(e.thresholds) == 0 {
		return int64(math.Floor(e.baseXP * math.Pow(float64(level), e.curve)))
	}

	lowest := e.thresholds[0]
	highest := e.thresholds[len(e.thresholds)-1]

	i := sort.Search(len(e.thresholds), func(i int) bool { return e.thresholds[i].level >= level })
	if i < len(e.thresholds) && e.thresholds[i].level == level {
		return e.thresholds[i].xp
	}

	switch {
	case level < lowest.level:
		return int64(math.Floor(float64(level) * float64(lowest.xp) / float64(lowest.level)))
	case level > highest.level:
		return highest.xp
	}

	// level lies strictly between thresholds[i-1] and thresholds[i].
	lower, upper := e.thresholds[i-1], e.thresholds[i]
	if !e.interpolate {
		// Without interpolation a level between two thresholds is only reached
		// together with the next configured one.
		return upper.xp
	}
	span := float64(upper.xp-lower.xp) * float64(level-lower.level) / float64(upper.level-lower.level)
	return lower.xp + int64(math.Floor(span))
}

// LevelForXP returns the level a user with xp has reached.
func (e *Engine) LevelForXP(xp int64) int {
	if xp < 0 {
		xp = 0
	}
	if len(e.thresholds) == 0 {
		level := 0
		for level < e.maxLevel && xp >= e.XPForLevel(level+1) {
			level++
		}
		return level
	}

	lowest := e.thresholds[0]
	if xp < lowest.xp {
		// Inverse of the linear ramp below the lowest threshold.
		if lowest.level == 0 {
			return 0
		}
		return e.clamp(int(math.Floor(float64(xp) * float64(lowest.level) / float64(lowest.xp))))
	}

	// Highest configured level whose requirement is met.
	i := sort.Search(len(e.thresholds), func(i int) bool { return e.thresholds[i].xp > xp }) - 1
	reached := e.thresholds[i]
	if i == len(e.thresholds)-1 || !e.interpolate {
		return e.clamp(reached.level)
	}

	next := e.thresholds[i+1]
	if xp == reached.xp {
		return e.clamp(reached.level)
	}
	steps := float64(xp-reached.xp) * float64(next.level-reached.level) / float64(next.xp-reached.xp)
	level := reached.level + int(math.Floor(steps))
	return e.clamp(level)
}

// XPToNextLevel returns how much more XP is needed to leave the level xp
// currently maps to. It is zero at MaxLevel.
func (e *Engine) XPToNextLevel(xp int64) int64 {
	level := e.LevelForXP(xp)
	if level >= e.maxLevel {
		return 0
	}
	need := e.XPForLevel(level+1) - xp
	if need < 0 {
		return 0
	}
	return need
}

func (e *Engine) clamp(level int) int {
	if level < 0 {
		return 0
	}
	if level > e.maxLevel {
		return e.maxLevel
	}
	return level
}
