package replay

import "fmt"

// Outcome classifies what happened to one item during replay.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"   // mutation applied
	OutcomeExisting  Outcome = "existing"  // already present, nothing to do
	OutcomeSimulated Outcome = "simulated" // dry-run, mutation withheld
	OutcomeSkipped   Outcome = "skipped"   // intentionally not processed
	OutcomeFailed    Outcome = "failed"    // mutation attempted and rejected
)

// ItemKind identifies which pass produced a result.
type ItemKind string

const (
	KindRootSegment ItemKind = "root-segment"
	KindUnit        ItemKind = "unit"
	KindObject      ItemKind = "object"
	KindMembership  ItemKind = "membership"
)

// ItemResult records the per-item outcome of one replay step, with enough
// context to retry the item manually.
type ItemResult struct {
	Kind    ItemKind
	Name    string // item name, or member path for membership results
	Path    string // target path the item was processed against
	Outcome Outcome
	Err     error // failure cause, or the reason an item was skipped
}

// Summary aggregates per-item outcomes into per-outcome counts. It is a
// reporting convenience; per-item semantics are unchanged by it.
type Summary struct {
	Created   int
	Existing  int
	Simulated int
	Skipped   int
	Failed    int
}

// Summarize tallies results into a summary.
func Summarize(results []ItemResult) Summary {
	var s Summary
	for _, r := range results {
		switch r.Outcome {
		case OutcomeCreated:
			s.Created++
		case OutcomeExisting:
			s.Existing++
		case OutcomeSimulated:
			s.Simulated++
		case OutcomeSkipped:
			s.Skipped++
		case OutcomeFailed:
			s.Failed++
		}
	}
	return s
}

func (s Summary) String() string {
	return fmt.Sprintf("created=%d existing=%d simulated=%d skipped=%d failed=%d",
		s.Created, s.Existing, s.Simulated, s.Skipped, s.Failed)
}
