package patcher

import (
	"bytes"
	"fmt"

	"golang.org/x/arch/arm/armasm"

	"lilithos/internal/convert"
	"lilithos/internal/patch/json"
)

// operations about report
const (
	OpApply  = "apply"
	OpVerify = "verify"
	OpRevert = "revert"
)

// Outcome is the result of one descriptor in one operation.
type Outcome struct {
	Offset      uint64 `json:"offset"`
	Original    uint32 `json:"original"`
	Patched     uint32 `json:"patched"`
	Description string `json:"description"`
	State       string `json:"state"`
	Attempted   bool   `json:"attempted"`
	Skipped     bool   `json:"skipped,omitempty"`
	Fault       string `json:"fault,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Report is the aggregate result of one operation over a table,
// outcomes keep the table order.
type Report struct {
	Op       string    `json:"op"`
	Outcomes []Outcome `json:"outcomes"`

	failed int
}

func newReport(op string) *Report {
	return &Report{Op: op}
}

func (r *Report) add(u *unit) {
	outcome := Outcome{
		Offset:      u.offset,
		Original:    u.desc.Original,
		Patched:     u.desc.Patched,
		Description: u.desc.Description,
		State:       u.state(),
		Attempted:   u.attempted,
		Skipped:     u.skipped,
	}
	if u.fault != FaultNone {
		outcome.Fault = u.fault.String()
		r.failed++
	}
	if u.err != nil {
		outcome.Error = u.err.Error()
	}
	r.Outcomes = append(r.Outcomes, outcome)
}

// OK reports whether every outcome succeeded, an empty table is OK.
func (r *Report) OK() bool {
	return r.failed == 0
}

// Failed is used to get the number of failed outcomes.
func (r *Report) Failed() int {
	return r.failed
}

// Summary is used to get a one line result like "3 ok, 1 failed".
func (r *Report) Summary() string {
	return fmt.Sprintf("%d ok, %d failed", len(r.Outcomes)-r.failed, r.failed)
}

// DecodeARM is used to decode a 32-bit word as an ARM instruction for
// report output, an undecodable word falls back to hex.
func DecodeARM(word uint32) string {
	inst, err := armasm.Decode(convert.LEUint32ToBytes(word), armasm.ModeARM)
	if err != nil {
		return fmt.Sprintf("0x%08X", word)
	}
	return armasm.GNUSyntax(inst)
}

// String renders one line per outcome.
//
// [ok]       0x80020F00  cmp r0, #0 -> mov r0, #0  Disable code signing
// [mismatch] 0x80031200  cmp r0, #1 -> mov r0, #1  Enable custom entitlements
func (r *Report) String() string {
	buf := new(bytes.Buffer)
	_, _ = fmt.Fprintf(buf, "%s: %s\n", r.Op, r.Summary())
	for i := 0; i < len(r.Outcomes); i++ {
		outcome := &r.Outcomes[i]
		tag := "ok"
		switch {
		case outcome.Fault != "":
			tag = outcome.Fault
		case !outcome.Attempted:
			tag = "unattempted"
		case outcome.Skipped:
			tag = "skip"
		}
		_, _ = fmt.Fprintf(buf, "[%s] 0x%08X  %s -> %s  %s\n",
			tag, outcome.Offset,
			DecodeARM(outcome.Original), DecodeARM(outcome.Patched),
			outcome.Description)
		if outcome.Error != "" {
			_, _ = fmt.Fprintf(buf, "      %s\n", outcome.Error)
		}
	}
	return buf.String()
}

// JSON is used to encode the report for machine consumers.
func (r *Report) JSON() ([]byte, error) {
	return json.Marshal(r)
}
