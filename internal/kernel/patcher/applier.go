package patcher

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"lilithos/internal/kernel/image"
	"lilithos/internal/logger"
)

// Policy controls whether an applier keeps going after a failed patch.
type Policy uint8

// policies about failed patch
const (
	PolicyContinue Policy = iota // record the failure, try the rest
	PolicyAbort                  // stop at the first failure
)

// ParsePolicy is used to parse policy from string.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "continue":
		return PolicyContinue, nil
	case "abort":
		return PolicyAbort, nil
	default:
		return 0, errors.Errorf("unknown policy: %s", s)
	}
}

// Options contains optional applier parameters.
type Options struct {
	// Resolver resolves descriptors that carry a signature, without it
	// those descriptors fail instead of guessing an offset.
	Resolver Resolver

	// Policy selects continue or abort on failure, default continue.
	Policy Policy

	// Logger receives per patch progress, default discard.
	Logger logger.Logger
}

// Applier applies an immutable patch table to one target image. Each
// read-compare-write runs under the applier lock, two appliers over the
// same image are not coordinated.
type Applier struct {
	img      image.Image
	units    []*unit
	resolver Resolver
	policy   Policy
	logger   logger.Logger

	mu sync.Mutex
}

// NewApplier is used to create an applier over an image with an
// injected patch table.
func NewApplier(img image.Image, table *Table, opts *Options) *Applier {
	if opts == nil {
		opts = new(Options)
	}
	descriptors := table.Descriptors()
	units := make([]*unit, len(descriptors))
	for i := range descriptors {
		units[i] = newUnit(descriptors[i])
	}
	lg := opts.Logger
	if lg == nil {
		lg = logger.Discard
	}
	return &Applier{
		img:      img,
		units:    units,
		resolver: opts.Resolver,
		policy:   opts.Policy,
		logger:   lg,
	}
}

func (a *Applier) logf(lv logger.Level, format string, log ...interface{}) {
	a.logger.Printf(lv, "patcher", format, log...)
}

// resolveOffset fills u.offset from the signature once, descriptors
// with a fixed offset pass through.
func (a *Applier) resolveOffset(u *unit) error {
	if u.desc.Signature == "" || u.resolved {
		return nil
	}
	if a.resolver == nil {
		return errors.Errorf("no resolver for signature %q", u.desc.Signature)
	}
	offset, err := a.resolver.Resolve(u.desc.Signature)
	if err != nil {
		return errors.WithMessagef(err, "failed to resolve %q", u.desc.Signature)
	}
	u.offset = offset
	u.resolved = true
	a.logf(logger.Debug, "signature %q resolved to 0x%08X", u.desc.Signature, offset)
	return nil
}

// ApplyAll is used to apply each patch in table order: read the live
// word, compare with the original value, write the replacement only on
// an exact match. It never stops on a canceled context half way through
// a single word.
func (a *Applier) ApplyAll(ctx context.Context) *Report {
	a.mu.Lock()
	defer a.mu.Unlock()
	report := newReport(OpApply)
	for _, u := range a.units {
		if a.aborted(ctx, report, u) {
			continue
		}
		u.attempted = true
		a.applyOne(u)
		report.add(u)
	}
	a.logf(logger.Info, "apply finished: %s", report.Summary())
	return report
}

func (a *Applier) applyOne(u *unit) {
	err := a.resolveOffset(u)
	if err != nil {
		a.logf(logger.Error, "%s: %s", u.desc.Description, err)
		u.fail(FaultMismatch, err)
		return
	}
	word, err := a.img.ReadWord(u.offset)
	if err != nil {
		a.logf(logger.Error, "%s: %s", u.desc.Description, err)
		u.fail(FaultAccess, err)
		return
	}
	switch word {
	case u.desc.Original:
		err = a.writeWord(u.offset, u.desc.Patched)
		if err != nil {
			a.logf(logger.Error, "%s: %s", u.desc.Description, err)
			u.fail(FaultWrite, err)
			return
		}
		if u.state() == StateUnapplied {
			u.transition(EventApply)
		}
		a.logf(logger.Info, "applied patch: %s", u.desc.Description)
	case u.desc.Patched:
		// already applied by a previous run
		u.skipped = true
		if u.state() == StateUnapplied {
			u.transition(EventApply)
		}
		a.logf(logger.Info, "skip applied patch: %s", u.desc.Description)
	default:
		err = errors.Errorf("expect 0x%08X at 0x%08X but found 0x%08X",
			u.desc.Original, u.offset, word)
		a.logf(logger.Error, "%s: %s", u.desc.Description, err)
		u.fail(FaultMismatch, err)
	}
}

// writeWord stores a word and reads it back, a store that does not
// stick is a write failure, not a silent success.
func (a *Applier) writeWord(offset uint64, word uint32) error {
	err := a.img.WriteWord(offset, word)
	if err != nil {
		return err
	}
	live, err := a.img.ReadWord(offset)
	if err != nil {
		return err
	}
	if live != word {
		return errors.Errorf("wrote 0x%08X at 0x%08X but read back 0x%08X",
			word, offset, live)
	}
	return nil
}

// VerifyAll is used to confirm each patch either held (live word equals
// the patched value) or was never applied (live word equals the
// original value), anything else is corruption.
func (a *Applier) VerifyAll(ctx context.Context) *Report {
	a.mu.Lock()
	defer a.mu.Unlock()
	report := newReport(OpVerify)
	for _, u := range a.units {
		if a.aborted(ctx, report, u) {
			continue
		}
		u.attempted = true
		a.verifyOne(u)
		report.add(u)
	}
	a.logf(logger.Info, "verify finished: %s", report.Summary())
	return report
}

func (a *Applier) verifyOne(u *unit) {
	err := a.resolveOffset(u)
	if err != nil {
		u.fail(FaultMismatch, err)
		return
	}
	word, err := a.img.ReadWord(u.offset)
	if err != nil {
		u.fail(FaultAccess, err)
		return
	}
	switch word {
	case u.desc.Patched:
		if u.state() == StateUnapplied {
			u.transition(EventApply)
		}
		if u.state() == StateApplied {
			u.transition(EventVerify)
		}
		a.logf(logger.Info, "patch held: %s", u.desc.Description)
	case u.desc.Original:
		// not yet applied, nothing to verify
		u.skipped = true
		a.logf(logger.Info, "patch not applied: %s", u.desc.Description)
	default:
		err = errors.Errorf("0x%08X contains 0x%08X, neither 0x%08X nor 0x%08X",
			u.offset, word, u.desc.Original, u.desc.Patched)
		a.logf(logger.Error, "%s: %s", u.desc.Description, err)
		u.fail(FaultCorrupt, err)
	}
}

// RevertAll is used to restore the original word where the live word is
// the patched value, it is the inverse of ApplyAll.
func (a *Applier) RevertAll(ctx context.Context) *Report {
	a.mu.Lock()
	defer a.mu.Unlock()
	report := newReport(OpRevert)
	for _, u := range a.units {
		if a.aborted(ctx, report, u) {
			continue
		}
		u.attempted = true
		a.revertOne(u)
		report.add(u)
	}
	a.logf(logger.Info, "revert finished: %s", report.Summary())
	return report
}

func (a *Applier) revertOne(u *unit) {
	err := a.resolveOffset(u)
	if err != nil {
		u.fail(FaultMismatch, err)
		return
	}
	word, err := a.img.ReadWord(u.offset)
	if err != nil {
		u.fail(FaultAccess, err)
		return
	}
	switch word {
	case u.desc.Patched:
		err = a.writeWord(u.offset, u.desc.Original)
		if err != nil {
			u.fail(FaultWrite, err)
			return
		}
		if u.state() == StateUnapplied {
			// applied by a previous run, align the state first
			u.transition(EventApply)
		}
		u.transition(EventRevert)
		a.logf(logger.Info, "reverted patch: %s", u.desc.Description)
	case u.desc.Original:
		u.skipped = true
		a.logf(logger.Info, "patch not applied: %s", u.desc.Description)
	default:
		err = errors.Errorf("0x%08X contains 0x%08X, neither 0x%08X nor 0x%08X",
			u.offset, word, u.desc.Original, u.desc.Patched)
		u.fail(FaultCorrupt, err)
	}
}

// aborted reports whether u must be recorded unattempted because the
// context is canceled, a previous patch failed under PolicyAbort, or
// the unit is already in the failed state.
func (a *Applier) aborted(ctx context.Context, report *Report, u *unit) bool {
	if u.state() == StateFailed {
		report.add(u)
		return true
	}
	if ctx.Err() != nil {
		u.attempted = false
		report.add(u)
		return true
	}
	if a.policy == PolicyAbort && report.Failed() > 0 {
		u.attempted = false
		report.add(u)
		return true
	}
	return false
}

// States is used to get the per patch states in table order.
func (a *Applier) States() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	states := make([]string, len(a.units))
	for i, u := range a.units {
		states[i] = u.state()
	}
	return states
}
