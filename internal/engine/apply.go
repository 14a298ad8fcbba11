package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/terrane-io/terrane/internal/ir"
	"github.com/terrane-io/terrane/internal/logging"
)

const defaultParallelism = 10

// DefaultCancelGrace is how long in-flight provider actions may keep
// running after the apply is cancelled.
const DefaultCancelGrace = 15 * time.Second

// StepStatus is the execution status of one plan step.
type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepApplying StepStatus = "applying"
	StepApplied  StepStatus = "applied"
	StepFailed   StepStatus = "failed"
	StepBlocked  StepStatus = "blocked"
	StepSkipped  StepStatus = "skipped"
)

func terminalStatus(s StepStatus) bool {
	return s == StepApplied || s == StepFailed || s == StepBlocked || s == StepSkipped
}

// ApplyEvent represents a progress event during apply.
type ApplyEvent struct {
	Name     string
	Action   ir.Action
	Deposed  bool
	Status   StepStatus
	Duration time.Duration
	Err      error
}

// ApplyCallback is called for each apply event if set.
type ApplyCallback func(event ApplyEvent)

// RecordSink persists individual record mutations as they land, so a crash
// mid-apply loses at most the in-flight actions.
type RecordSink interface {
	SaveRecord(ctx context.Context, rec *ir.ResourceRecord) error
	DeleteRecord(ctx context.Context, name string) error
}

// ApplyOptions tunes plan execution.
type ApplyOptions struct {
	Callback    ApplyCallback
	Sink        RecordSink
	Parallelism int
	Grace       time.Duration
}

// StepResult is the outcome of one plan step.
type StepResult struct {
	Step     *ir.Step
	Status   StepStatus
	Duration time.Duration
	Err      error
}

// ApplyResult reports per-step outcomes in plan order.
type ApplyResult struct {
	Results []*StepResult
	Applied int
	Failed  int
	Blocked int
	Skipped int
}

// Result returns the result for a step ID, or nil.
func (r *ApplyResult) Result(id string) *StepResult {
	for _, sr := range r.Results {
		if sr.Step.ID == id {
			return sr
		}
	}
	return nil
}

// ApplyPlan executes a plan against state and updates it in place.
func (e *Engine) ApplyPlan(ctx context.Context, plan *ir.Plan, state *ir.State) (*ApplyResult, error) {
	return e.ApplyPlanWithOptions(ctx, plan, state, ApplyOptions{})
}

// ApplyPlanWithOptions executes a plan's steps on a bounded worker pool.
// Each step waits until every step it depends on has applied; when a step
// fails, its transitive dependents are marked blocked and everything
// independent keeps going. Cancellation stops new steps immediately and
// gives in-flight ones a bounded grace window. State is mutated only after
// a provider action succeeds, one whole record at a time.
func (e *Engine) ApplyPlanWithOptions(ctx context.Context, plan *ir.Plan, state *ir.State, opts ApplyOptions) (*ApplyResult, error) {
	x := &executor{
		engine:   e,
		state:    state,
		sink:     opts.Sink,
		callback: opts.Callback,
		steps:    make(map[string]*stepState, len(plan.Steps)),
		result:   &ApplyResult{},
	}

	for _, step := range plan.Steps {
		change := plan.Change(step.Name)
		if change == nil {
			return nil, fmt.Errorf("step %s has no matching change", step.ID)
		}
		ss := &stepState{
			step:   step,
			change: change,
			result: &StepResult{Step: step, Status: StepPending},
		}
		ss.pending.Store(int64(len(step.DependsOn)))
		x.steps[step.ID] = ss
		x.result.Results = append(x.result.Results, ss.result)
	}
	for _, ss := range x.steps {
		for _, dep := range ss.step.DependsOn {
			parent, ok := x.steps[dep]
			if !ok {
				return nil, fmt.Errorf("step %s depends on unknown step %s", ss.step.ID, dep)
			}
			parent.dependents = append(parent.dependents, ss.step.ID)
		}
	}

	if len(plan.Steps) == 0 {
		x.stateMu.Lock()
		state.Outputs = x.resolveOutputsLocked(plan.Outputs)
		x.stateMu.Unlock()
		return x.result, nil
	}

	// In-flight actions keep a detached context that is cancelled a grace
	// period after the apply itself is.
	grace := opts.Grace
	if grace <= 0 {
		grace = DefaultCancelGrace
	}
	applyCtx, cancelApply := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelApply()
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			t := time.NewTimer(grace)
			defer t.Stop()
			select {
			case <-t.C:
			case <-done:
			}
			cancelApply()
		case <-done:
		}
	}()

	x.remaining.Store(int64(len(plan.Steps)))
	x.ready = make(chan *stepState, len(plan.Steps))
	for _, step := range plan.Steps {
		ss := x.steps[step.ID]
		if ss.pending.Load() == 0 {
			x.ready <- ss
		}
	}

	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = e.Parallelism
	}
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}
	if parallelism > len(plan.Steps) {
		parallelism = len(plan.Steps)
	}

	var wg sync.WaitGroup
	for i := 0; i < parallelism; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ss := range x.ready {
				if x.statusOf(ss) != StepPending {
					continue
				}
				if ctx.Err() != nil {
					x.finish(ss, StepSkipped, nil, 0)
					continue
				}
				x.runStep(applyCtx, ss)
			}
		}()
	}
	wg.Wait()
	close(done)

	x.stateMu.Lock()
	state.Outputs = x.resolveOutputsLocked(plan.Outputs)
	x.stateMu.Unlock()

	if err := ctx.Err(); err != nil {
		return x.result, fmt.Errorf("apply cancelled: %w", err)
	}
	if x.result.Failed > 0 || x.result.Blocked > 0 {
		var errs []error
		for _, sr := range x.result.Results {
			if sr.Status == StepFailed {
				errs = append(errs, sr.Err)
			}
		}
		return x.result, fmt.Errorf("%d action(s) failed, %d blocked: %w",
			x.result.Failed, x.result.Blocked, errors.Join(errs...))
	}
	return x.result, nil
}

// stepState is one step's scheduling state. pending counts unmet
// dependencies; the step becomes runnable when it reaches zero.
type stepState struct {
	step       *ir.Step
	change     *ir.ResourceChange
	pending    atomic.Int64
	dependents []string
	result     *StepResult
}

type executor struct {
	engine   *Engine
	state    *ir.State
	stateMu  sync.Mutex
	sink     RecordSink
	callback ApplyCallback

	steps     map[string]*stepState
	mu        sync.Mutex // guards result statuses and counters
	ready     chan *stepState
	remaining atomic.Int64
	closeOnce sync.Once
	result    *ApplyResult
}

func (x *executor) emit(ss *stepState, status StepStatus, dur time.Duration, err error) {
	if x.callback == nil {
		return
	}
	x.callback(ApplyEvent{
		Name:     ss.step.Name,
		Action:   ss.step.Action,
		Deposed:  ss.step.Deposed,
		Status:   status,
		Duration: dur,
		Err:      err,
	})
}

func (x *executor) statusOf(ss *stepState) StepStatus {
	x.mu.Lock()
	defer x.mu.Unlock()
	return ss.result.Status
}

func (x *executor) runStep(ctx context.Context, ss *stepState) {
	x.mu.Lock()
	ss.result.Status = StepApplying
	x.mu.Unlock()
	x.emit(ss, StepApplying, 0, nil)

	logging.Debug("applying step", "step", ss.step.ID, "deposed", ss.step.Deposed)
	start := time.Now()
	err := x.runProviderAction(ctx, ss)
	dur := time.Since(start)
	if err != nil {
		x.finish(ss, StepFailed, err, dur)
		return
	}
	x.finish(ss, StepApplied, nil, dur)
}

// finish moves a step to a terminal status exactly once and propagates the
// consequences: applied steps release their dependents' gates, failures and
// blocks cascade to transitive dependents, skips cascade on cancellation.
func (x *executor) finish(ss *stepState, status StepStatus, err error, dur time.Duration) {
	x.mu.Lock()
	if ss.result.Status == StepApplying && status == StepBlocked {
		// An in-flight step cannot be blocked; its own outcome decides.
		x.mu.Unlock()
		return
	}
	if terminalStatus(ss.result.Status) {
		x.mu.Unlock()
		return
	}
	ss.result.Status = status
	ss.result.Err = err
	ss.result.Duration = dur
	switch status {
	case StepApplied:
		x.result.Applied++
	case StepFailed:
		x.result.Failed++
	case StepBlocked:
		x.result.Blocked++
	case StepSkipped:
		x.result.Skipped++
	}
	x.mu.Unlock()
	x.emit(ss, status, dur, err)

	switch status {
	case StepApplied:
		for _, id := range ss.dependents {
			dep := x.steps[id]
			if dep.pending.Add(-1) == 0 {
				x.ready <- dep
			}
		}
	case StepFailed:
		for _, id := range ss.dependents {
			x.finish(x.steps[id], StepBlocked,
				fmt.Errorf("dependency %s failed", ss.step.Name), 0)
		}
	case StepBlocked:
		for _, id := range ss.dependents {
			x.finish(x.steps[id], StepBlocked,
				fmt.Errorf("dependency %s was blocked", ss.step.Name), 0)
		}
	case StepSkipped:
		for _, id := range ss.dependents {
			x.finish(x.steps[id], StepSkipped, nil, 0)
		}
	}

	if x.remaining.Add(-1) == 0 {
		x.closeOnce.Do(func() { close(x.ready) })
	}
}

// runProviderAction performs the provider call for one step and, on
// success, commits the record mutation. The serial captured at plan time is
// checked first; a mismatch means someone else modified the record.
func (x *executor) runProviderAction(ctx context.Context, ss *stepState) error {
	step, change := ss.step, ss.change

	var timeout time.Duration
	if change.Timeout != "" {
		if d, err := time.ParseDuration(change.Timeout); err == nil {
			timeout = d
		}
	}
	ctx, cancel := WithTimeout(ctx, timeout)
	defer cancel()

	prov, err := x.engine.registry.Get(change.Provider)
	if err != nil {
		return err
	}

	switch step.Action {
	case ir.ActionCreate:
		x.stateMu.Lock()
		if err := x.checkSerialLocked(step); err != nil {
			x.stateMu.Unlock()
			return err
		}
		inputs, err := x.resolveInputsLocked(change)
		x.stateMu.Unlock()
		if err != nil {
			return provisioningError(step.Name, ir.ActionCreate, err)
		}

		var id string
		var outputs map[string]any
		err = x.invoke(ctx, func() error {
			var cerr error
			id, outputs, cerr = prov.Create(ctx, change.Kind, inputs)
			return cerr
		})
		if err != nil {
			return provisioningError(step.Name, ir.ActionCreate, err)
		}

		now := time.Now().UTC()
		rec := &ir.ResourceRecord{
			Name:         step.Name,
			Kind:         change.Kind,
			Provider:     change.Provider,
			ID:           id,
			Inputs:       inputs,
			Outputs:      ensureID(outputs, id),
			Dependencies: change.DependsOn,
			Serial:       step.RecordSerial + 1,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		x.stateMu.Lock()
		x.state.SetRecord(rec)
		err = x.persistSave(ctx, rec)
		x.stateMu.Unlock()
		return err

	case ir.ActionUpdate:
		x.stateMu.Lock()
		rec, ok := x.state.Record(step.Name)
		if !ok {
			x.stateMu.Unlock()
			return concurrentModError(step.Name, ir.ActionUpdate, step.RecordSerial, 0)
		}
		if rec.Serial != step.RecordSerial {
			x.stateMu.Unlock()
			return concurrentModError(step.Name, ir.ActionUpdate, step.RecordSerial, rec.Serial)
		}
		oldInputs := rec.Inputs
		newInputs, err := x.resolveInputsLocked(change)
		x.stateMu.Unlock()
		if err != nil {
			return provisioningError(step.Name, ir.ActionUpdate, err)
		}

		// A rewire whose resolved inputs match the record is settled
		// without a provider call.
		if looseEqual(oldInputs, newInputs) {
			if slices.Equal(rec.Dependencies, change.DependsOn) {
				return nil
			}
			x.stateMu.Lock()
			rec.Dependencies = change.DependsOn
			rec.Serial++
			rec.UpdatedAt = time.Now().UTC()
			x.state.SetRecord(rec)
			err = x.persistSave(ctx, rec)
			x.stateMu.Unlock()
			return err
		}

		var outputs map[string]any
		err = x.invoke(ctx, func() error {
			var uerr error
			outputs, uerr = prov.Update(ctx, change.Kind, rec.ID, oldInputs, newInputs)
			return uerr
		})
		if err != nil {
			return provisioningError(step.Name, ir.ActionUpdate, err)
		}

		x.stateMu.Lock()
		rec.Inputs = newInputs
		rec.Outputs = ensureID(outputs, rec.ID)
		rec.Dependencies = change.DependsOn
		rec.Serial++
		rec.Tainted = false
		rec.UpdatedAt = time.Now().UTC()
		x.state.SetRecord(rec)
		err = x.persistSave(ctx, rec)
		x.stateMu.Unlock()
		return err

	case ir.ActionDestroy:
		if step.Deposed {
			// The record already points at the replacement; only the real
			// old instance goes away.
			err := x.invoke(ctx, func() error {
				return prov.Destroy(ctx, change.Kind, step.PriorID)
			})
			if err != nil {
				return provisioningError(step.Name, ir.ActionDestroy, err)
			}
			return nil
		}

		x.stateMu.Lock()
		rec, ok := x.state.Record(step.Name)
		if !ok {
			// Already destroyed; resuming a plan lands here.
			x.stateMu.Unlock()
			return nil
		}
		if rec.Serial != step.RecordSerial {
			x.stateMu.Unlock()
			return concurrentModError(step.Name, ir.ActionDestroy, step.RecordSerial, rec.Serial)
		}
		id := rec.ID
		x.stateMu.Unlock()

		err := x.invoke(ctx, func() error {
			return prov.Destroy(ctx, change.Kind, id)
		})
		if err != nil {
			return provisioningError(step.Name, ir.ActionDestroy, err)
		}

		x.stateMu.Lock()
		x.state.RemoveRecord(step.Name)
		err = x.persistDelete(ctx, step.Name)
		x.stateMu.Unlock()
		return err

	default:
		return fmt.Errorf("step %s has unexpected action %s", step.ID, step.Action)
	}
}

func (x *executor) invoke(ctx context.Context, op func() error) error {
	if x.engine.Retry == nil {
		return op()
	}
	return RetryWithBackoff(ctx, x.engine.Retry, op, IsTransientError)
}

func (x *executor) checkSerialLocked(step *ir.Step) error {
	rec, ok := x.state.Record(step.Name)
	switch {
	case step.RecordSerial == 0 && ok:
		return concurrentModError(step.Name, step.Action, 0, rec.Serial)
	case step.RecordSerial != 0 && !ok:
		return concurrentModError(step.Name, step.Action, step.RecordSerial, 0)
	case step.RecordSerial != 0 && rec.Serial != step.RecordSerial:
		return concurrentModError(step.Name, step.Action, step.RecordSerial, rec.Serial)
	}
	return nil
}

func (x *executor) persistSave(ctx context.Context, rec *ir.ResourceRecord) error {
	if x.sink == nil {
		return nil
	}
	if err := x.sink.SaveRecord(ctx, rec); err != nil {
		return fmt.Errorf("resource %s applied but record not persisted: %w", rec.Name, err)
	}
	return nil
}

func (x *executor) persistDelete(ctx context.Context, name string) error {
	if x.sink == nil {
		return nil
	}
	if err := x.sink.DeleteRecord(ctx, name); err != nil {
		return fmt.Errorf("resource %s destroyed but record not removed: %w", name, err)
	}
	return nil
}

// resolveInputsLocked resolves the declared attributes against live
// records. Dependencies applied first, so every reference target's fresh
// outputs are present. Caller holds stateMu.
func (x *executor) resolveInputsLocked(change *ir.ResourceChange) (map[string]any, error) {
	inputs := make(map[string]any, len(change.Desired))
	for k, raw := range change.Desired {
		v, err := x.resolveValueLocked(raw)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", k, err)
		}
		inputs[k] = v
	}
	return inputs, nil
}

func (x *executor) resolveValueLocked(raw any) (any, error) {
	switch v := raw.(type) {
	case string:
		ref, ok := ir.ParseValue(v).Reference()
		if !ok {
			return v, nil
		}
		rec, ok := x.state.Record(ref.Node)
		if !ok {
			return nil, fmt.Errorf("reference %s resolves to no record", ref.String())
		}
		if out, ok := rec.Outputs[ref.Attribute]; ok {
			return out, nil
		}
		if in, ok := rec.Inputs[ref.Attribute]; ok {
			return in, nil
		}
		return nil, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			rv, err := x.resolveValueLocked(item)
			if err != nil {
				return nil, err
			}
			out[k] = rv
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			rv, err := x.resolveValueLocked(item)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return raw, nil
	}
}

// resolveOutputsLocked resolves root output values leniently: references
// that cannot be resolved stay as written.
func (x *executor) resolveOutputsLocked(outputs map[string]any) map[string]any {
	if outputs == nil {
		return nil
	}
	resolved := make(map[string]any, len(outputs))
	for k, raw := range outputs {
		if v, err := x.resolveValueLocked(raw); err == nil {
			resolved[k] = v
		} else {
			resolved[k] = raw
		}
	}
	return resolved
}

func ensureID(outputs map[string]any, id string) map[string]any {
	if outputs == nil {
		outputs = make(map[string]any, 1)
	}
	if _, ok := outputs["id"]; !ok && id != "" {
		outputs["id"] = id
	}
	return outputs
}
