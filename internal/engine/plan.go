package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/terrane-io/terrane/internal/ir"
	"github.com/terrane-io/terrane/internal/logging"
	"github.com/terrane-io/terrane/internal/provider"
	"github.com/terrane-io/terrane/internal/schema"
)

// Engine orchestrates the lifecycle of resources: planning declaration sets
// against recorded state and applying the resulting plans.
type Engine struct {
	registry *provider.Registry

	// Parallelism bounds the apply worker pool. Zero means the default.
	Parallelism int

	// Retry, when set, re-invokes transient provider failures. The engine
	// itself never retries without it.
	Retry *RetryPolicy
}

func NewEngine(registry *provider.Registry) *Engine {
	return &Engine{registry: registry}
}

// CreatePlan generates an execution plan by comparing the declaration set
// with recorded state.
func (e *Engine) CreatePlan(ctx context.Context, cfg *ir.Config, state *ir.State) (*ir.Plan, error) {
	return e.CreatePlanWithTargets(ctx, cfg, state, nil)
}

// CreatePlanWithTargets generates a plan filtered to specific logical names.
// Targeted nodes pull in their transitive dependencies; everything else
// plans as no-op. Nil or empty targets plan everything.
func (e *Engine) CreatePlanWithTargets(ctx context.Context, cfg *ir.Config, state *ir.State, targets []string) (*ir.Plan, error) {
	logging.Debug("creating plan", "declarations", len(cfg.Resources), "records", len(state.Records), "targets", len(targets))

	decls, err := e.prepare(cfg)
	if err != nil {
		return nil, err
	}

	// Schema validation runs before anything else; schema errors abort with
	// nothing mutated.
	if err := e.validateDeclarations(decls); err != nil {
		return nil, err
	}

	graph, err := BuildGraph(decls, e.registry.Schemas())
	if err != nil {
		return nil, err
	}

	var targetSet map[string]bool
	if len(targets) > 0 {
		targetSet = make(map[string]bool)
		for _, t := range targets {
			if graph.Node(t) == nil {
				return nil, fmt.Errorf("target %q matches no declaration", t)
			}
			targetSet[t] = true
			for _, dep := range graph.TransitiveDependencies(t) {
				targetSet[dep] = true
			}
		}
	}

	plan := e.newPlan(state)
	plan.Outputs = cfg.Outputs

	p := &planner{
		engine:  e,
		graph:   graph,
		state:   state,
		actions: make(map[string]ir.Action),
	}

	// Classify declared nodes in creation order so reference targets are
	// classified before their dependents.
	for _, name := range graph.CreationOrder() {
		node := graph.Node(name)
		if targetSet != nil && !targetSet[name] {
			p.actions[name] = ir.ActionNoOp
			plan.Summary.NoOp++
			node.Status = StatusPlanned
			continue
		}
		change, err := p.classify(node)
		if err != nil {
			return nil, err
		}
		p.actions[name] = change.Action
		node.Status = StatusPlanned
		if change.Action == ir.ActionNoOp {
			plan.Summary.NoOp++
			continue
		}
		plan.Changes = append(plan.Changes, change)
	}

	// A replaced node's dependents must rewire onto the new instance even
	// when their own inputs are unchanged.
	p.upgradeRewires(plan)

	// Records whose declarations were removed are destroyed.
	if err := p.planRemovals(plan, targetSet); err != nil {
		return nil, err
	}

	p.countActions(plan)
	if err := p.expandSteps(plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// CreateDestroyPlan plans the destruction of every recorded resource, in
// strictly reverse dependency order.
func (e *Engine) CreateDestroyPlan(ctx context.Context, cfg *ir.Config, state *ir.State) (*ir.Plan, error) {
	logging.Debug("creating destroy plan", "records", len(state.Records))

	if cfg != nil {
		for _, decl := range cfg.Resources {
			if decl.Lifecycle != nil && decl.Lifecycle.PreventDestroy {
				if _, ok := state.Record(decl.Name); ok {
					return nil, fmt.Errorf("resource %s has preventDestroy set but is planned for destruction", decl.Name)
				}
			}
		}
	}

	plan := e.newPlan(state)
	plan.Metadata.Destroy = true

	p := &planner{engine: e, state: state, actions: make(map[string]ir.Action)}
	if err := p.planRemovals(plan, nil); err != nil {
		return nil, err
	}
	p.countActions(plan)
	if err := p.expandSteps(plan); err != nil {
		return nil, err
	}
	return plan, nil
}

func (e *Engine) newPlan(state *ir.State) *ir.Plan {
	return &ir.Plan{
		Metadata: &ir.PlanMetadata{
			ID:          uuid.NewString(),
			CreatedAt:   time.Now().UTC(),
			StateSerial: state.Serial,
		},
		Changes: []*ir.ResourceChange{},
		Summary: &ir.PlanSummary{},
	}
}

// prepare expands count/forEach, fills provider names, normalizes attribute
// maps, and loads every required provider.
func (e *Engine) prepare(cfg *ir.Config) ([]*ir.Declaration, error) {
	decls := ExpandForEach(cfg.Resources)
	for _, decl := range decls {
		if decl.Provider == "" {
			decl.Provider = provider.InferProvider(decl.Kind)
		}
		decl.Attributes = normalizeAttrs(decl.Attributes)
		if err := e.registry.LoadProvider(decl.Provider); err != nil {
			return nil, fmt.Errorf("failed to load provider %s: %w", decl.Provider, err)
		}
	}
	return decls, nil
}

func (e *Engine) validateDeclarations(decls []*ir.Declaration) error {
	var errs []error
	for _, decl := range decls {
		for _, v := range e.registry.Schemas().Validate(decl) {
			errs = append(errs, &Error{Kind: ErrSchemaViolation, Name: decl.Name, Err: v})
		}
	}
	return errors.Join(errs...)
}

// planner carries per-plan classification state.
type planner struct {
	engine  *Engine
	graph   *Graph
	state   *ir.State
	actions map[string]ir.Action
}

// classify diffs one node's declared inputs against its state record.
func (p *planner) classify(node *Node) (*ir.ResourceChange, error) {
	ks, _ := p.engine.registry.Schemas().Get(node.Kind)

	change := &ir.ResourceChange{
		Address:   ir.ResourceAddress(node.Kind, node.Name),
		Name:      node.Name,
		Kind:      node.Kind,
		Provider:  node.Provider,
		Desired:   node.Decl.Attributes,
		DependsOn: node.Deps,
		Timeout:   node.Decl.Timeout,
	}

	rec, exists := p.state.Record(node.Name)
	if !exists {
		change.Action = ir.ActionCreate
		change.Reason = "not in state"
		change.Diff = p.buildCreateDiff(node, ks)
		return change, nil
	}

	change.Prior = rec.Inputs
	change.PriorID = rec.ID
	change.RecordSerial = rec.Serial

	if rec.Tainted {
		if err := p.checkPreventDestroy(node); err != nil {
			return nil, err
		}
		change.Action = ir.ActionReplace
		change.Reason = "tainted"
		change.Diff = p.buildUpdateDiff(node, rec, ks, nil)
		return change, nil
	}

	diff, forcesReplace := p.diffAttrs(node, rec, ks)
	if len(diff) == 0 {
		change.Action = ir.ActionNoOp
		return change, nil
	}

	change.Diff = diff
	if len(forcesReplace) > 0 {
		if err := p.checkPreventDestroy(node); err != nil {
			return nil, err
		}
		change.Action = ir.ActionReplace
		change.ForcesReplace = forcesReplace
		change.Reason = "immutable attribute changed"
	} else {
		change.Action = ir.ActionUpdate
		change.Reason = "inputs changed"
	}
	return change, nil
}

func (p *planner) checkPreventDestroy(node *Node) error {
	if node.Decl.Lifecycle != nil && node.Decl.Lifecycle.PreventDestroy {
		return fmt.Errorf("resource %s has preventDestroy set but plan requires destruction", node.Name)
	}
	return nil
}

// diffAttrs compares declared inputs against recorded inputs, attribute by
// attribute, resolving references where the target is settled and marking
// the rest unknown. Computed-only attributes never participate. Returns the
// diff plus the names of changed immutable attributes.
func (p *planner) diffAttrs(node *Node, rec *ir.ResourceRecord, ks schema.KindSchema) (map[string]*ir.PropertyDiff, []string) {
	ignored := make(map[string]bool)
	if node.Decl.Lifecycle != nil {
		for _, attr := range node.Decl.Lifecycle.IgnoreChanges {
			ignored[attr] = true
		}
	}

	allKeys := make(map[string]bool)
	for k := range node.Attrs {
		allKeys[k] = true
	}
	for k := range rec.Inputs {
		allKeys[k] = true
	}

	diff := make(map[string]*ir.PropertyDiff)
	var forcesReplace []string

	for k := range allKeys {
		if ignored[k] {
			continue
		}
		attrSchema := ks.Attributes[k]
		if attrSchema.Computed {
			continue
		}

		priorVal, inPrior := rec.Inputs[k]
		val, declared := node.Attrs[k]

		var desired any
		known := true
		if declared {
			desired, known = p.resolveForPlan(val)
		}

		var d *ir.PropertyDiff
		switch {
		case declared && !inPrior:
			d = &ir.PropertyDiff{After: desired, Action: ir.ActionCreate, Unknown: !known}
		case !declared && inPrior:
			d = &ir.PropertyDiff{Before: priorVal, Action: ir.ActionDestroy}
		case !known:
			d = &ir.PropertyDiff{Before: priorVal, After: ir.Unknown, Action: ir.ActionUpdate, Unknown: true}
		case !looseEqual(priorVal, desired):
			d = &ir.PropertyDiff{Before: priorVal, After: desired, Action: ir.ActionUpdate}
		default:
			continue
		}

		d.Sensitive = attrSchema.Sensitive
		if attrSchema.Immutable {
			d.ForcesReplacement = true
			forcesReplace = append(forcesReplace, k)
		}
		diff[k] = d
	}

	return diff, forcesReplace
}

func (p *planner) buildCreateDiff(node *Node, ks schema.KindSchema) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)
	for k, val := range node.Attrs {
		desired, known := p.resolveForPlan(val)
		if !known {
			desired = ir.Unknown
		}
		diff[k] = &ir.PropertyDiff{
			After:     desired,
			Action:    ir.ActionCreate,
			Sensitive: ks.Attributes[k].Sensitive,
			Unknown:   !known,
		}
	}
	return diff
}

func (p *planner) buildUpdateDiff(node *Node, rec *ir.ResourceRecord, ks schema.KindSchema, only map[string]bool) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)
	for k, val := range node.Attrs {
		if only != nil && !only[k] {
			continue
		}
		desired, known := p.resolveForPlan(val)
		if !known {
			desired = ir.Unknown
		}
		diff[k] = &ir.PropertyDiff{
			Before:    rec.Inputs[k],
			After:     desired,
			Action:    ir.ActionUpdate,
			Sensitive: ks.Attributes[k].Sensitive,
			Unknown:   !known,
		}
	}
	return diff
}

func buildDestroyDiff(inputs map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)
	for k, v := range inputs {
		diff[k] = &ir.PropertyDiff{Before: v, Action: ir.ActionDestroy}
	}
	return diff
}

// resolveForPlan resolves a declared value as far as plan time allows.
// References to input attributes read the target's declaration; references
// to computed attributes read the target's record, but only when the target
// is settled (planned no-op). Anything else is only known after apply.
func (p *planner) resolveForPlan(val ir.Value) (any, bool) {
	if ref, ok := val.Reference(); ok {
		return p.resolveRefForPlan(ref)
	}
	raw := val.LiteralValue()
	if len(val.References()) == 0 {
		return raw, true
	}
	return resolveNested(raw, func(ref ir.Reference) (any, bool) {
		return p.resolveRefForPlan(ref)
	})
}

func (p *planner) resolveRefForPlan(ref ir.Reference) (any, bool) {
	target := p.graph.Node(ref.Node)
	if target == nil {
		return nil, false
	}

	// Input attributes read the target's declaration; an unset optional
	// reads as null.
	ks, _ := p.engine.registry.Schemas().Get(target.Kind)
	if !ks.Attributes[ref.Attribute].Computed {
		if declared, ok := target.Attrs[ref.Attribute]; ok {
			return p.resolveForPlan(declared)
		}
		return nil, true
	}

	// Computed attributes are known only once the target is settled; an
	// output the provider never reported reads as null rather than
	// reopening the diff on every plan.
	if p.actions[ref.Node] == ir.ActionNoOp {
		if rec, ok := p.state.Record(ref.Node); ok {
			if v, ok := rec.Outputs[ref.Attribute]; ok {
				return v, true
			}
			return nil, true
		}
	}
	return nil, false
}

// resolveNested substitutes reference strings inside composite literals.
// The whole value is unknown as soon as one nested reference is.
func resolveNested(raw any, resolve func(ir.Reference) (any, bool)) (any, bool) {
	switch val := raw.(type) {
	case string:
		if ref, ok := ir.ParseValue(val).Reference(); ok {
			return resolve(ref)
		}
		return val, true
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			rv, known := resolveNested(v, resolve)
			if !known {
				return nil, false
			}
			out[k] = rv
		}
		return out, true
	case []any:
		out := make([]any, len(val))
		for i, v := range val {
			rv, known := resolveNested(v, resolve)
			if !known {
				return nil, false
			}
			out[i] = rv
		}
		return out, true
	default:
		return raw, true
	}
}

// upgradeRewires forces dependents of replaced nodes to at least update, so
// the deposed instance is only destroyed after every dependent points at
// its replacement.
func (p *planner) upgradeRewires(plan *ir.Plan) {
	if p.graph == nil {
		return
	}
	for _, change := range plan.Changes {
		if change.Action != ir.ActionReplace {
			continue
		}
		for _, depName := range p.graph.Dependents(change.Name) {
			if p.actions[depName] != ir.ActionNoOp {
				continue
			}
			node := p.graph.Node(depName)
			rec, _ := p.state.Record(depName)
			ks, _ := p.engine.registry.Schemas().Get(node.Kind)

			rewire := &ir.ResourceChange{
				Address:   ir.ResourceAddress(node.Kind, depName),
				Name:      depName,
				Kind:      node.Kind,
				Provider:  node.Provider,
				Action:    ir.ActionUpdate,
				Desired:   node.Decl.Attributes,
				DependsOn: node.Deps,
				Timeout:   node.Decl.Timeout,
				Reason:    fmt.Sprintf("depends on replaced resource %s", change.Name),
			}
			if rec != nil {
				rewire.Prior = rec.Inputs
				rewire.PriorID = rec.ID
				rewire.RecordSerial = rec.Serial
				rewire.Diff = p.buildUpdateDiff(node, rec, ks, refAttrsOf(node, change.Name))
			}
			p.actions[depName] = ir.ActionUpdate
			plan.Summary.NoOp--
			plan.Changes = append(plan.Changes, rewire)
		}
	}
}

// refAttrsOf names the attributes of node that reference target.
func refAttrsOf(node *Node, target string) map[string]bool {
	attrs := make(map[string]bool)
	for name, val := range node.Attrs {
		for _, ref := range val.References() {
			if ref.Node == target {
				attrs[name] = true
			}
		}
	}
	return attrs
}

// planRemovals adds destroy changes for records whose declarations no
// longer exist.
func (p *planner) planRemovals(plan *ir.Plan, targetSet map[string]bool) error {
	var removed []string
	for name := range p.state.Records {
		if _, declared := p.actions[name]; declared {
			continue
		}
		if targetSet != nil && !targetSet[name] {
			continue
		}
		removed = append(removed, name)
	}
	if len(removed) == 0 {
		return nil
	}

	// Order destroys dependents-first using the dependencies persisted in
	// state.
	subset := make(map[string]*ir.ResourceRecord, len(removed))
	for _, name := range removed {
		subset[name] = p.state.Records[name]
	}
	recGraph, err := BuildGraphFromRecords(subset)
	if err != nil {
		return err
	}

	for _, name := range recGraph.DestructionOrder() {
		rec := subset[name]
		plan.Changes = append(plan.Changes, &ir.ResourceChange{
			Address:      ir.ResourceAddress(rec.Kind, name),
			Name:         name,
			Kind:         rec.Kind,
			Provider:     rec.Provider,
			Action:       ir.ActionDestroy,
			Prior:        rec.Inputs,
			PriorID:      rec.ID,
			RecordSerial: rec.Serial,
			Diff:         buildDestroyDiff(rec.Inputs),
			Reason:       "not in configuration",
		})
		p.actions[name] = ir.ActionDestroy
	}
	return nil
}

func (p *planner) countActions(plan *ir.Plan) {
	for _, change := range plan.Changes {
		switch change.Action {
		case ir.ActionCreate:
			plan.Summary.Create++
		case ir.ActionUpdate:
			plan.Summary.Update++
		case ir.ActionReplace:
			plan.Summary.Replace++
		case ir.ActionDestroy:
			plan.Summary.Destroy++
		}
	}
}

// expandSteps turns changes into executable steps. Creates and updates
// depend on the new-side steps of their graph dependencies; a replace
// expands into a create step plus a deposed destroy step gated on every
// dependent's rewire; standalone destroys run dependents-first, gated on
// the steps that detach or destroy each dependent.
func (p *planner) expandSteps(plan *ir.Plan) error {
	newSide := make(map[string]string)  // name -> step ID that realizes the new instance
	destroys := make(map[string]string) // name -> standalone destroy step ID

	for _, change := range plan.Changes {
		switch change.Action {
		case ir.ActionCreate, ir.ActionReplace:
			newSide[change.Name] = ir.StepID(ir.ActionCreate, change.Name)
		case ir.ActionUpdate:
			newSide[change.Name] = ir.StepID(ir.ActionUpdate, change.Name)
		case ir.ActionDestroy:
			destroys[change.Name] = ir.StepID(ir.ActionDestroy, change.Name)
		}
	}

	// recDependents[x] lists names whose state records depend on x; destroy
	// ordering runs through records, not declarations.
	recDependents := make(map[string][]string)
	for name, rec := range p.state.Records {
		for _, dep := range rec.Dependencies {
			recDependents[dep] = append(recDependents[dep], name)
		}
	}

	var steps []*ir.Step
	for _, change := range plan.Changes {
		switch change.Action {
		case ir.ActionCreate, ir.ActionUpdate:
			steps = append(steps, &ir.Step{
				ID:           newSide[change.Name],
				Name:         change.Name,
				Action:       change.Action,
				DependsOn:    p.newSideDeps(change, newSide),
				PriorID:      change.PriorID,
				RecordSerial: change.RecordSerial,
			})

		case ir.ActionReplace:
			createID := ir.StepID(ir.ActionCreate, change.Name)
			steps = append(steps, &ir.Step{
				ID:           createID,
				Name:         change.Name,
				Action:       ir.ActionCreate,
				DependsOn:    p.newSideDeps(change, newSide),
				PriorID:      change.PriorID,
				RecordSerial: change.RecordSerial,
			})

			// The deposed instance waits for every dependent to rewire.
			deposedDeps := []string{createID}
			if p.graph != nil {
				for _, depName := range p.graph.Dependents(change.Name) {
					if stepID, ok := newSide[depName]; ok {
						deposedDeps = append(deposedDeps, stepID)
					}
				}
			}
			steps = append(steps, &ir.Step{
				ID:        ir.StepID(ir.ActionDestroy, change.Name),
				Name:      change.Name,
				Action:    ir.ActionDestroy,
				DependsOn: deposedDeps,
				PriorID:   change.PriorID,
				Deposed:   true,
			})

		case ir.ActionDestroy:
			var deps []string
			for _, depName := range recDependents[change.Name] {
				if stepID, ok := destroys[depName]; ok {
					deps = append(deps, stepID)
				} else if stepID, ok := newSide[depName]; ok {
					// A surviving dependent detaches from this resource
					// before it is destroyed.
					deps = append(deps, stepID)
				}
			}
			steps = append(steps, &ir.Step{
				ID:           destroys[change.Name],
				Name:         change.Name,
				Action:       ir.ActionDestroy,
				DependsOn:    deps,
				PriorID:      change.PriorID,
				RecordSerial: change.RecordSerial,
			})
		}
	}

	ordered, err := orderSteps(steps)
	if err != nil {
		return err
	}
	plan.Steps = ordered
	return nil
}

// newSideDeps lists the step IDs a create/update step must wait for: the
// new-side step of every graph dependency that is being acted on.
func (p *planner) newSideDeps(change *ir.ResourceChange, newSide map[string]string) []string {
	var deps []string
	for _, depName := range change.DependsOn {
		if stepID, ok := newSide[depName]; ok {
			deps = append(deps, stepID)
		}
	}
	return deps
}

// orderSteps topologically sorts steps by their DependsOn edges. The step
// graph is acyclic whenever the declaration graph is, but a malformed plan
// file could violate that, so it is checked.
func orderSteps(steps []*ir.Step) ([]*ir.Step, error) {
	byID := make(map[string]*ir.Step, len(steps))
	inDegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string)

	for _, s := range steps {
		byID[s.ID] = s
		inDegree[s.ID] = 0
	}
	for _, s := range steps {
		for _, dep := range s.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, fmt.Errorf("step %s depends on unknown step %s", s.ID, dep)
			}
			inDegree[s.ID]++
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	var queue []string
	for _, s := range steps {
		if inDegree[s.ID] == 0 {
			queue = append(queue, s.ID)
		}
	}

	var ordered []*ir.Step
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		ordered = append(ordered, byID[id])
		for _, dep := range dependents[id] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(ordered) != len(steps) {
		return nil, fmt.Errorf("step graph is not acyclic")
	}
	return ordered, nil
}

// looseEqual compares attribute values by their canonical string rendering,
// which absorbs numeric type drift between decoded config and JSON state.
func looseEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func normalizeAttrs(attrs map[string]any) map[string]any {
	if attrs == nil {
		return nil
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[any]any:
		newMap := make(map[string]any)
		for k, v := range val {
			newMap[fmt.Sprintf("%v", k)] = normalizeValue(v)
		}
		return newMap
	case map[string]any:
		newMap := make(map[string]any)
		for k, v := range val {
			newMap[k] = normalizeValue(v)
		}
		return newMap
	case []any:
		newSlice := make([]any, len(val))
		for i, v := range val {
			newSlice[i] = normalizeValue(v)
		}
		return newSlice
	default:
		return val
	}
}
