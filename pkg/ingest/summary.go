package ingest

import (
	"fmt"
	"sort"
	"time"

	recerrors "github.com/otherjamesbrown/dealbook/pkg/errors"
	"github.com/otherjamesbrown/dealbook/pkg/merge"
	"github.com/otherjamesbrown/dealbook/pkg/schema"
)

// Counts tallies row outcomes for one target table.
type Counts struct {
	Created   int `json:"created" yaml:"created"`
	Updated   int `json:"updated" yaml:"updated"`
	Unchanged int `json:"unchanged" yaml:"unchanged"`
	Skipped   int `json:"skipped" yaml:"skipped"`
	Errored   int `json:"errored" yaml:"errored"`
}

// Total returns the number of rows counted.
func (c Counts) Total() int {
	return c.Created + c.Updated + c.Unchanged + c.Skipped + c.Errored
}

func (c *Counts) add(o Counts) {
	c.Created += o.Created
	c.Updated += o.Updated
	c.Unchanged += o.Unchanged
	c.Skipped += o.Skipped
	c.Errored += o.Errored
}

func (c *Counts) record(o merge.Outcome) {
	switch o {
	case merge.Created:
		c.Created++
	case merge.Updated:
		c.Updated++
	default:
		c.Unchanged++
	}
}

// RowError is a recoverable failure on one source row.
type RowError struct {
	Row     int                 `json:"row" yaml:"row"`
	Code    recerrors.ErrorCode `json:"code" yaml:"code"`
	Message string              `json:"message" yaml:"message"`
}

// Miss is a name that failed strict resolution.
type Miss struct {
	Kind schema.Kind `json:"kind" yaml:"kind"`
	Name string      `json:"name" yaml:"name"`
}

func (m Miss) String() string {
	return fmt.Sprintf("%s: %s", m.Kind, m.Name)
}

// FileSummary reports the import of one source.
type FileSummary struct {
	Source         string        `json:"source" yaml:"source"`
	Hash           string        `json:"hash" yaml:"hash"`
	Dataset        string        `json:"dataset" yaml:"dataset"`
	RegionNotFound bool          `json:"region_not_found" yaml:"region_not_found"`
	HeaderRow      int           `json:"header_row" yaml:"header_row"`
	Unmapped       []string      `json:"unmapped,omitempty" yaml:"unmapped,omitempty"`
	Rows           int           `json:"rows" yaml:"rows"`
	ParseWarnings  int           `json:"parse_warnings" yaml:"parse_warnings"`
	Counts         Counts        `json:"counts" yaml:"counts"`
	NotFound       []Miss        `json:"not_found,omitempty" yaml:"not_found,omitempty"`
	Errors         []RowError    `json:"errors,omitempty" yaml:"errors,omitempty"`
	Duration       time.Duration `json:"duration" yaml:"duration"`

	// Projects lists projects whose participations this source touched.
	Projects []int64 `json:"-" yaml:"-"`
}

// RunSummary reports one import run across its sources.
type RunSummary struct {
	RunID           string            `json:"run_id" yaml:"run_id"`
	Dataset         string            `json:"dataset" yaml:"dataset"`
	DryRun          bool              `json:"dry_run" yaml:"dry_run"`
	StartedAt       time.Time         `json:"started_at" yaml:"started_at"`
	CompletedAt     time.Time         `json:"completed_at" yaml:"completed_at"`
	Counts          map[string]Counts `json:"counts" yaml:"counts"`
	NotFound        []string          `json:"not_found" yaml:"not_found"`
	RegionsNotFound []string          `json:"regions_not_found" yaml:"regions_not_found"`
	Recomputed      []int64           `json:"recomputed_projects,omitempty" yaml:"recomputed_projects,omitempty"`
	Sources         []FileSummary     `json:"sources" yaml:"sources"`
}

func newRunSummary(runID, dataset string, dryRun bool) *RunSummary {
	return &RunSummary{
		RunID:     runID,
		Dataset:   dataset,
		DryRun:    dryRun,
		StartedAt: time.Now().UTC(),
		Counts:    map[string]Counts{},
	}
}

// Add folds a source summary into the run.
func (s *RunSummary) Add(target string, fs FileSummary) {
	c := s.Counts[target]
	c.add(fs.Counts)
	s.Counts[target] = c

	if fs.RegionNotFound {
		s.RegionsNotFound = append(s.RegionsNotFound, fs.Source)
	}

	seen := make(map[string]bool, len(s.NotFound))
	for _, n := range s.NotFound {
		seen[n] = true
	}
	for _, m := range fs.NotFound {
		if key := m.String(); !seen[key] {
			seen[key] = true
			s.NotFound = append(s.NotFound, key)
		}
	}
	sort.Strings(s.NotFound)
	s.Sources = append(s.Sources, fs)
}

// Total returns the counts summed over every target.
func (s *RunSummary) Total() Counts {
	var total Counts
	for _, c := range s.Counts {
		total.add(c)
	}
	return total
}

// Targets returns the counted targets in name order.
func (s *RunSummary) Targets() []string {
	out := make([]string, 0, len(s.Counts))
	for t := range s.Counts {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// touchedProjects returns the distinct participation projects of every source.
func (s *RunSummary) touchedProjects() []int64 {
	seen := map[int64]bool{}
	var out []int64
	for _, fs := range s.Sources {
		for _, id := range fs.Projects {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
