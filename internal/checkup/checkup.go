package checkup

import (
	"bytes"
	"context"
	"fmt"

	"lilithos/internal/logger"
	"lilithos/internal/patch/json"
)

// statuses about one stage
const (
	StatusPass = "pass"
	StatusFail = "fail"
	StatusSkip = "skip" // not reached because an earlier stage failed
)

// Stage is one named check in a staged run, Run returns an error
// on failure.
type Stage struct {
	Name string
	Run  func(ctx context.Context) error
}

// Result is the outcome of one stage.
type Result struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Report is the aggregate result of one staged run, results keep
// the stage order.
type Report struct {
	Results []Result `json:"results"`
	Passed  int      `json:"passed"`
	Failed  int      `json:"failed"`
	Skipped int      `json:"skipped"`
}

// OK reports whether every executed stage passed, an empty stage
// list is OK.
func (r *Report) OK() bool {
	return r.Failed == 0
}

// Summary is used to get a one line result like "2 passed, 1 failed, 1 skipped".
func (r *Report) Summary() string {
	return fmt.Sprintf("%d passed, %d failed, %d skipped", r.Passed, r.Failed, r.Skipped)
}

// String renders one line per stage.
//
// [pass] restore file
// [fail] kernelcache image
//        failed to parse kernelcache: ...
// [skip] patch table
func (r *Report) String() string {
	buf := new(bytes.Buffer)
	_, _ = fmt.Fprintf(buf, "check: %s\n", r.Summary())
	for i := 0; i < len(r.Results); i++ {
		result := &r.Results[i]
		_, _ = fmt.Fprintf(buf, "[%s] %s\n", result.Status, result.Name)
		if result.Error != "" {
			_, _ = fmt.Fprintf(buf, "       %s\n", result.Error)
		}
	}
	return buf.String()
}

// JSON is used to encode the report for machine consumers.
func (r *Report) JSON() ([]byte, error) {
	return json.Marshal(r)
}

// Run is used to execute stages in order, stages after the first
// failure or a canceled context are recorded skipped, later stages
// must be able to rely on what earlier stages proved.
func Run(ctx context.Context, lg logger.Logger, stages []Stage) *Report {
	if lg == nil {
		lg = logger.Discard
	}
	report := new(Report)
	for i := 0; i < len(stages); i++ {
		stage := &stages[i]
		result := Result{Name: stage.Name}
		if report.Failed > 0 || ctx.Err() != nil {
			result.Status = StatusSkip
			report.Skipped++
			report.Results = append(report.Results, result)
			continue
		}
		err := stage.Run(ctx)
		if err != nil {
			result.Status = StatusFail
			result.Error = err.Error()
			report.Failed++
			lg.Printf(logger.Error, "checkup", "%s: %s", stage.Name, err)
		} else {
			result.Status = StatusPass
			report.Passed++
			lg.Printf(logger.Info, "checkup", "%s passed", stage.Name)
		}
		report.Results = append(report.Results, result)
	}
	lg.Printf(logger.Info, "checkup", "finished: %s", report.Summary())
	return report
}
