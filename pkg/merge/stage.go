package merge

import (
	"fmt"
	"strings"

	"github.com/otherjamesbrown/dealbook/pkg/normalize"
)

// DefaultStages is the deal pipeline order, weakest first.
var DefaultStages = []string{
	"Prospective",
	"Under Contract",
	"Started",
	"Under Construction",
	"Stabilized",
	"Closed",
	"Liquidated",
}

// DefaultSentinels are side-channel stages usable only while nothing
// stronger is recorded.
var DefaultSentinels = []string{"Other", "HoldCo"}

// DefaultSentinelCeiling is the first stage that blocks sentinel writes.
const DefaultSentinelCeiling = "Under Contract"

// StageOrder ranks stage names. Names compare case-insensitively and are
// rewritten to the order's spelling.
type StageOrder struct {
	ranks     map[string]int
	spelling  map[string]string
	sentinels map[string]string
	ceiling   int
}

func stageKey(s string) string {
	return normalize.FoldName(s)
}

// NewStageOrder builds an order from stages (weakest first), sentinel values
// and the stage at or above which sentinels may no longer be written.
func NewStageOrder(stages, sentinels []string, ceiling string) (*StageOrder, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("stage order is empty")
	}
	o := &StageOrder{
		ranks:     make(map[string]int, len(stages)),
		spelling:  make(map[string]string, len(stages)+len(sentinels)),
		sentinels: make(map[string]string, len(sentinels)),
	}
	for i, s := range stages {
		k := stageKey(s)
		if k == "" {
			return nil, fmt.Errorf("stage %d is blank", i)
		}
		if _, dup := o.ranks[k]; dup {
			return nil, fmt.Errorf("stage %q listed twice", s)
		}
		o.ranks[k] = i
		o.spelling[k] = strings.TrimSpace(s)
	}
	for _, s := range sentinels {
		k := stageKey(s)
		if _, clash := o.ranks[k]; clash {
			return nil, fmt.Errorf("sentinel %q is also a ranked stage", s)
		}
		o.sentinels[k] = strings.TrimSpace(s)
		o.spelling[k] = strings.TrimSpace(s)
	}
	ceilingRank, ok := o.ranks[stageKey(ceiling)]
	if !ok {
		return nil, fmt.Errorf("sentinel ceiling %q is not a ranked stage", ceiling)
	}
	o.ceiling = ceilingRank
	return o, nil
}

// DefaultStageOrder returns the built-in pipeline order.
func DefaultStageOrder() *StageOrder {
	o, err := NewStageOrder(DefaultStages, DefaultSentinels, DefaultSentinelCeiling)
	if err != nil {
		panic(err)
	}
	return o
}

// Rank returns the position of stage in the order.
func (o *StageOrder) Rank(stage string) (int, bool) {
	r, ok := o.ranks[stageKey(stage)]
	return r, ok
}

// IsSentinel reports whether stage is a side-channel value.
func (o *StageOrder) IsSentinel(stage string) bool {
	_, ok := o.sentinels[stageKey(stage)]
	return ok
}

// Canonical returns the order's spelling of stage, or the trimmed input
// when the stage is unknown.
func (o *StageOrder) Canonical(stage string) string {
	if s, ok := o.spelling[stageKey(stage)]; ok {
		return s
	}
	return strings.TrimSpace(stage)
}

// Accept reports whether candidate may replace current.
//
// A ranked candidate must outrank a ranked current value; it always replaces
// a blank, sentinel or unrecognized one. A sentinel candidate is accepted
// while current is blank, unranked or below the ceiling. An unrecognized
// candidate only fills a blank.
func (o *StageOrder) Accept(current, candidate string) bool {
	if strings.TrimSpace(candidate) == "" {
		return false
	}
	curBlank := strings.TrimSpace(current) == ""
	curRank, curRanked := o.Rank(current)

	if candRank, ok := o.Rank(candidate); ok {
		if !curRanked {
			return true
		}
		return candRank > curRank
	}
	if o.IsSentinel(candidate) {
		return curBlank || !curRanked || curRank < o.ceiling
	}
	return curBlank
}
