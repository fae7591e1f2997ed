package registry

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"

	"github.com/platinummonkey/pluginhost/pkg/plugins"
)

// Status is the overall verdict of a StartAll run
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusFailed   Status = "failed"
)

// Outcome is one provider's result in a StartAll run. Stage is the failing
// stage for FAILED providers and the last completed stage otherwise.
type Outcome struct {
	Ref      plugins.Ref
	State    plugins.LifecycleState
	Stage    plugins.Stage
	Err      error
	Duration time.Duration
}

// Failed reports whether the provider ended in FAILED
func (o Outcome) Failed() bool {
	return o.State == plugins.StateFailed
}

// StartupReport enumerates per-provider results of StartAll
type StartupReport struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Order      []plugins.Ref // resolved start order; empty when Fatal is set
	Outcomes   []Outcome
	Fatal      error // set when the batch was aborted
}

func newStartupReport() *StartupReport {
	return &StartupReport{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
	}
}

func (r *StartupReport) add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
}

// Succeeded returns outcomes that did not end in FAILED
func (r *StartupReport) Succeeded() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if !o.Failed() {
			out = append(out, o)
		}
	}
	return out
}

// Failed returns outcomes that ended in FAILED
func (r *StartupReport) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Failed() {
			out = append(out, o)
		}
	}
	return out
}

// Status is failed when the batch was aborted or every provider failed,
// degraded when some failed, and healthy otherwise.
func (r *StartupReport) Status() Status {
	failed := len(r.Failed())
	switch {
	case r.Fatal != nil:
		return StatusFailed
	case failed == 0:
		return StatusHealthy
	case failed == len(r.Outcomes):
		return StatusFailed
	default:
		return StatusDegraded
	}
}

// Summary is the one-line operator message for Status
func (r *StartupReport) Summary() string {
	switch r.Status() {
	case StatusHealthy:
		return "platform is fully healthy"
	case StatusDegraded:
		return fmt.Sprintf("platform started with %d of %d providers failed", len(r.Failed()), len(r.Outcomes))
	}
	if r.Fatal != nil {
		return fmt.Sprintf("platform failed to start: %v", r.Fatal)
	}
	return fmt.Sprintf("platform failed to start: all %d providers failed", len(r.Outcomes))
}

// Render writes the summary line followed by a table of every provider and,
// for failures, the stage and cause.
func (r *StartupReport) Render(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "%s (run %s, %s)\n", r.Summary(), r.RunID,
		r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond)); err != nil {
		return err
	}
	if len(r.Outcomes) == 0 {
		_, err := fmt.Fprintln(w, "no providers registered")
		return err
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Provider", "State", "Stage", "Duration", "Error"})
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	for _, o := range r.Outcomes {
		errMsg := ""
		if o.Err != nil {
			errMsg = o.Err.Error()
		}
		table.Append([]string{
			o.Ref.String(),
			string(o.State),
			string(o.Stage),
			o.Duration.Round(time.Millisecond).String(),
			errMsg,
		})
	}
	table.Render()
	return nil
}

type outcomeJSON struct {
	Ref        plugins.Ref            `json:"ref"`
	State      plugins.LifecycleState `json:"state"`
	Stage      plugins.Stage          `json:"stage,omitempty"`
	Error      string                 `json:"error,omitempty"`
	DurationMS int64                  `json:"duration_ms"`
}

type reportJSON struct {
	RunID      string        `json:"run_id"`
	Status     Status        `json:"status"`
	Summary    string        `json:"summary"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Order      []plugins.Ref `json:"order,omitempty"`
	Outcomes   []outcomeJSON `json:"outcomes"`
	Fatal      string        `json:"fatal,omitempty"`
}

// MarshalJSON renders errors as strings and durations in milliseconds
func (r *StartupReport) MarshalJSON() ([]byte, error) {
	out := reportJSON{
		RunID:      r.RunID,
		Status:     r.Status(),
		Summary:    r.Summary(),
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Order:      r.Order,
		Outcomes:   make([]outcomeJSON, 0, len(r.Outcomes)),
	}
	if r.Fatal != nil {
		out.Fatal = r.Fatal.Error()
	}
	for _, o := range r.Outcomes {
		oj := outcomeJSON{
			Ref:        o.Ref,
			State:      o.State,
			Stage:      o.Stage,
			DurationMS: o.Duration.Milliseconds(),
		}
		if o.Err != nil {
			oj.Error = o.Err.Error()
		}
		out.Outcomes = append(out.Outcomes, oj)
	}
	return json.Marshal(out)
}
