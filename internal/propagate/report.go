package propagate

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// Outcome is the result of one document update.
type Outcome string

// Outcomes.
const (
	OutcomeChanged   Outcome = "changed"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// Result records what happened to one instruction node.
type Result struct {
	ID      string
	Path    string
	Depth   int
	Outcome Outcome
	Err     error
}

// Report collects per-document results of one propagation run, in walk order.
type Report struct {
	SprintID string
	Results  []Result
}

func (r *Report) add(res Result) {
	r.Results = append(r.Results, res)
}

func (r *Report) paths(o Outcome) []string {
	var out []string
	for _, res := range r.Results {
		if res.Outcome == o {
			out = append(out, res.Path)
		}
	}
	return out
}

// Changed returns the paths that were rewritten.
func (r *Report) Changed() []string { return r.paths(OutcomeChanged) }

// Unchanged returns the paths left untouched.
func (r *Report) Unchanged() []string { return r.paths(OutcomeUnchanged) }

// Skipped returns the paths under a failed node.
func (r *Report) Skipped() []string { return r.paths(OutcomeSkipped) }

// Failed returns the failed results.
func (r *Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Outcome == OutcomeFailed {
			out = append(out, res)
		}
	}
	return out
}

// Err joins the errors of failed nodes, or returns nil.
func (r *Report) Err() error {
	var errs []error
	for _, res := range r.Failed() {
		errs = append(errs, res.Err)
	}
	return errors.Join(errs...)
}

// WriteTo prints one line per document.
func (r *Report) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	for _, res := range r.Results {
		switch res.Outcome {
		case OutcomeChanged:
			fmt.Fprintf(&b, "Updated %s\n", res.Path)
		case OutcomeUnchanged:
			fmt.Fprintf(&b, "No changes for %s\n", res.Path)
		case OutcomeFailed:
			fmt.Fprintf(&b, "Failed %s: %v\n", res.Path, res.Err)
		case OutcomeSkipped:
			fmt.Fprintf(&b, "Skipped %s\n", res.Path)
		}
	}
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}
