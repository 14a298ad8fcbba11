package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrane-io/terrane/internal/ir"
	"github.com/terrane-io/terrane/internal/provider"
)

func nullDecl(name string, triggers map[string]any) *ir.Declaration {
	return &ir.Declaration{
		Name:       name,
		Kind:       "null_resource",
		Attributes: map[string]any{"triggers": triggers},
	}
}

func nullRecord(name, id string, triggers map[string]any) *ir.ResourceRecord {
	now := time.Now().UTC()
	return &ir.ResourceRecord{
		Name:      name,
		Kind:      "null_resource",
		Provider:  "null",
		ID:        id,
		Inputs:    map[string]any{"triggers": triggers},
		Outputs:   map[string]any{"id": id, "triggers": triggers},
		Serial:    1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func cfgOf(decls ...*ir.Declaration) *ir.Config {
	return &ir.Config{Resources: decls}
}

func stepByID(t *testing.T, plan *ir.Plan, id string) *ir.Step {
	t.Helper()
	for _, s := range plan.Steps {
		if s.ID == id {
			return s
		}
	}
	t.Fatalf("plan has no step %s", id)
	return nil
}

func TestCreatePlan_CreatesNewResources(t *testing.T) {
	eng := NewEngine(provider.NewRegistry())
	st := ir.NewState()

	web := nullDecl("web", map[string]any{"rev": "1"})
	web.DependsOn = []string{"net"}
	cfg := cfgOf(nullDecl("net", map[string]any{"rev": "1"}), web)

	plan, err := eng.CreatePlan(context.Background(), cfg, st)
	require.NoError(t, err)

	assert.NotEmpty(t, plan.Metadata.ID)
	assert.False(t, plan.Metadata.CreatedAt.IsZero())
	assert.Equal(t, uint64(0), plan.Metadata.StateSerial)
	assert.False(t, plan.Metadata.Destroy)

	require.Len(t, plan.Changes, 2)
	for _, change := range plan.Changes {
		assert.Equal(t, ir.ActionCreate, change.Action)
		assert.Equal(t, "not in state", change.Reason)
		assert.Equal(t, "null", change.Provider, "provider inferred from the kind")
		assert.Equal(t, "null_resource."+change.Name, change.Address)
		require.Contains(t, change.Diff, "triggers")
		assert.Equal(t, ir.ActionCreate, change.Diff["triggers"].Action)
	}
	assert.Equal(t, 2, plan.Summary.Create)
	assert.True(t, plan.HasChanges())

	require.Len(t, plan.Steps, 2)
	assert.Equal(t, "create:net", plan.Steps[0].ID)
	assert.Equal(t, "create:web", plan.Steps[1].ID)
	assert.Equal(t, []string{"create:net"}, plan.Steps[1].DependsOn)
}

func TestCreatePlan_NoChangesForSettledState(t *testing.T) {
	eng := NewEngine(provider.NewRegistry())
	st := ir.NewState()
	st.SetRecord(nullRecord("web", "null-1a2b3c4d", map[string]any{"rev": "1"}))

	plan, err := eng.CreatePlan(context.Background(), cfgOf(nullDecl("web", map[string]any{"rev": "1"})), st)
	require.NoError(t, err)

	assert.False(t, plan.HasChanges())
	assert.Empty(t, plan.Changes)
	assert.Empty(t, plan.Steps)
	assert.Equal(t, 1, plan.Summary.NoOp)
	assert.Equal(t, st.Serial, plan.Metadata.StateSerial)
}

func TestCreatePlan_ImmutableChangeForcesReplace(t *testing.T) {
	eng := NewEngine(provider.NewRegistry())
	st := ir.NewState()
	st.SetRecord(nullRecord("web", "null-1a2b3c4d", map[string]any{"rev": "1"}))

	plan, err := eng.CreatePlan(context.Background(), cfgOf(nullDecl("web", map[string]any{"rev": "2"})), st)
	require.NoError(t, err)

	require.Len(t, plan.Changes, 1)
	change := plan.Changes[0]
	assert.Equal(t, ir.ActionReplace, change.Action)
	assert.Equal(t, "immutable attribute changed", change.Reason)
	assert.Equal(t, []string{"triggers"}, change.ForcesReplace)
	assert.Equal(t, "null-1a2b3c4d", change.PriorID)
	require.Contains(t, change.Diff, "triggers")
	assert.True(t, change.Diff["triggers"].ForcesReplacement)
	assert.Equal(t, 1, plan.Summary.Replace)

	// A replace expands into a create step plus a deposed destroy gated
	// on it.
	require.Len(t, plan.Steps, 2)
	create := stepByID(t, plan, "create:web")
	assert.Equal(t, uint64(1), create.RecordSerial)
	deposed := stepByID(t, plan, "destroy:web")
	assert.True(t, deposed.Deposed)
	assert.Equal(t, "null-1a2b3c4d", deposed.PriorID)
	assert.Equal(t, []string{"create:web"}, deposed.DependsOn)
	assert.Same(t, create, plan.Steps[0])
}

func TestCreatePlan_UpdatesMutableAttributes(t *testing.T) {
	eng, _ := newBoxEngine(t)
	st := ir.NewState()
	st.SetRecord(boxRecord("web", "box-1", map[string]any{"payload": "v1", "token": "t1"}))

	cfg := cfgOf(boxDecl("web", map[string]any{"payload": "v2", "token": "t2"}))
	plan, err := eng.CreatePlan(context.Background(), cfg, st)
	require.NoError(t, err)

	require.Len(t, plan.Changes, 1)
	change := plan.Changes[0]
	assert.Equal(t, ir.ActionUpdate, change.Action)
	assert.Equal(t, "inputs changed", change.Reason)
	assert.Empty(t, change.ForcesReplace)

	require.Contains(t, change.Diff, "payload")
	assert.Equal(t, "v1", change.Diff["payload"].Before)
	assert.Equal(t, "v2", change.Diff["payload"].After)
	require.Contains(t, change.Diff, "token")
	assert.True(t, change.Diff["token"].Sensitive)

	require.Len(t, plan.Steps, 1)
	assert.Equal(t, "update:web", plan.Steps[0].ID)
	assert.Equal(t, uint64(1), plan.Steps[0].RecordSerial)
}

func TestCreatePlan_TaintedRecordForcesReplace(t *testing.T) {
	eng := NewEngine(provider.NewRegistry())
	st := ir.NewState()
	rec := nullRecord("web", "null-1a2b3c4d", map[string]any{"rev": "1"})
	rec.Tainted = true
	st.SetRecord(rec)

	plan, err := eng.CreatePlan(context.Background(), cfgOf(nullDecl("web", map[string]any{"rev": "1"})), st)
	require.NoError(t, err)

	require.Len(t, plan.Changes, 1)
	assert.Equal(t, ir.ActionReplace, plan.Changes[0].Action)
	assert.Equal(t, "tainted", plan.Changes[0].Reason)
}

func TestCreatePlan_IgnoreChangesSuppressesDiff(t *testing.T) {
	eng := NewEngine(provider.NewRegistry())
	st := ir.NewState()
	st.SetRecord(nullRecord("web", "null-1a2b3c4d", map[string]any{"rev": "1"}))

	decl := nullDecl("web", map[string]any{"rev": "2"})
	decl.Lifecycle = &ir.Lifecycle{IgnoreChanges: []string{"triggers"}}

	plan, err := eng.CreatePlan(context.Background(), cfgOf(decl), st)
	require.NoError(t, err)
	assert.False(t, plan.HasChanges())
	assert.Equal(t, 1, plan.Summary.NoOp)
}

func TestCreatePlan_DestroysRemovedDeclarations(t *testing.T) {
	eng := NewEngine(provider.NewRegistry())
	st := ir.NewState()
	st.SetRecord(nullRecord("net", "null-0000net", map[string]any{"rev": "1"}))
	web := nullRecord("web", "null-0000web", map[string]any{"rev": "1"})
	web.Dependencies = []string{"net"}
	st.SetRecord(web)
	db := nullRecord("db", "null-00000db", map[string]any{"rev": "1"})
	db.Dependencies = []string{"web"}
	st.SetRecord(db)

	// Only net is still declared; web and db are destroyed, dependents
	// first.
	plan, err := eng.CreatePlan(context.Background(), cfgOf(nullDecl("net", map[string]any{"rev": "1"})), st)
	require.NoError(t, err)

	require.Len(t, plan.Changes, 2)
	assert.Equal(t, "db", plan.Changes[0].Name)
	assert.Equal(t, "web", plan.Changes[1].Name)
	for _, change := range plan.Changes {
		assert.Equal(t, ir.ActionDestroy, change.Action)
		assert.Equal(t, "not in configuration", change.Reason)
	}
	assert.Equal(t, 2, plan.Summary.Destroy)
	assert.Equal(t, 1, plan.Summary.NoOp)

	assert.Equal(t, []string{"destroy:db"}, stepByID(t, plan, "destroy:web").DependsOn)
	assert.Empty(t, stepByID(t, plan, "destroy:db").DependsOn)
}

func TestCreatePlan_PreventDestroyBlocksReplace(t *testing.T) {
	eng := NewEngine(provider.NewRegistry())
	st := ir.NewState()
	st.SetRecord(nullRecord("web", "null-1a2b3c4d", map[string]any{"rev": "1"}))

	decl := nullDecl("web", map[string]any{"rev": "2"})
	decl.Lifecycle = &ir.Lifecycle{PreventDestroy: true}

	_, err := eng.CreatePlan(context.Background(), cfgOf(decl), st)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "web")
	assert.Contains(t, err.Error(), "preventDestroy")
}

func TestCreatePlan_RejectsSchemaViolations(t *testing.T) {
	eng := NewEngine(provider.NewRegistry())

	cfg := cfgOf(
		&ir.Declaration{Name: "a", Kind: "null_resource", Attributes: map[string]any{"bogus": "x"}},
		&ir.Declaration{Name: "b", Kind: "null_other"},
	)
	_, err := eng.CreatePlan(context.Background(), cfg, ir.NewState())
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrSchemaViolation))
	assert.Contains(t, err.Error(), `"bogus"`)
	assert.Contains(t, err.Error(), "unknown kind")
}

func TestCreatePlan_UnknownTarget(t *testing.T) {
	eng := NewEngine(provider.NewRegistry())
	cfg := cfgOf(nullDecl("web", map[string]any{"rev": "1"}))

	_, err := eng.CreatePlanWithTargets(context.Background(), cfg, ir.NewState(), []string{"nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `target "nope" matches no declaration`)
}

func TestCreatePlan_TargetsPullDependencies(t *testing.T) {
	eng := NewEngine(provider.NewRegistry())
	st := ir.NewState()
	st.SetRecord(nullRecord("ghost", "null-000ghost", map[string]any{"rev": "1"}))

	b := nullDecl("b", map[string]any{"rev": "1"})
	b.DependsOn = []string{"a"}
	c := nullDecl("c", map[string]any{"rev": "1"})
	c.DependsOn = []string{"b"}
	cfg := cfgOf(nullDecl("a", map[string]any{"rev": "1"}), b, c)

	plan, err := eng.CreatePlanWithTargets(context.Background(), cfg, st, []string{"b"})
	require.NoError(t, err)

	// b pulls its dependency a; c stays no-op; the undeclared ghost
	// record is out of scope for a targeted plan.
	assert.Equal(t, 2, plan.Summary.Create)
	assert.Equal(t, 1, plan.Summary.NoOp)
	assert.Equal(t, 0, plan.Summary.Destroy)
	assert.NotNil(t, plan.Change("a"))
	assert.NotNil(t, plan.Change("b"))
	assert.Nil(t, plan.Change("c"))
	assert.Nil(t, plan.Change("ghost"))
}

func TestCreatePlan_ReferenceUnknownUntilApply(t *testing.T) {
	eng, _ := newBoxEngine(t)

	app := boxDecl("app", map[string]any{"payload": "ref://web.address"})
	cfg := cfgOf(boxDecl("web", nil), app)

	plan, err := eng.CreatePlan(context.Background(), cfg, ir.NewState())
	require.NoError(t, err)

	change := plan.Change("app")
	require.NotNil(t, change)
	assert.Equal(t, []string{"web"}, change.DependsOn)
	require.Contains(t, change.Diff, "payload")
	assert.True(t, change.Diff["payload"].Unknown)
	assert.Equal(t, ir.Unknown, change.Diff["payload"].After)

	assert.Equal(t, []string{"create:web"}, stepByID(t, plan, "create:app").DependsOn)
}

func TestCreatePlan_ResolvesSettledReference(t *testing.T) {
	eng, _ := newBoxEngine(t)
	st := ir.NewState()
	st.SetRecord(boxRecord("web", "box-1", nil))

	app := boxDecl("app", map[string]any{"payload": "ref://web.address"})
	cfg := cfgOf(boxDecl("web", nil), app)

	plan, err := eng.CreatePlan(context.Background(), cfg, st)
	require.NoError(t, err)

	change := plan.Change("app")
	require.NotNil(t, change)
	require.Contains(t, change.Diff, "payload")
	assert.False(t, change.Diff["payload"].Unknown)
	assert.Equal(t, "10.1.0.1", change.Diff["payload"].After)
}

func TestCreatePlan_RewiresDependentsOfReplaced(t *testing.T) {
	eng, _ := newBoxEngine(t)
	st := ir.NewState()
	st.SetRecord(boxRecord("web", "box-1", map[string]any{"cell": "us"}))
	app := boxRecord("app", "box-2", map[string]any{"payload": "web"})
	app.Dependencies = []string{"web"}
	st.SetRecord(app)

	cfg := cfgOf(
		boxDecl("web", map[string]any{"cell": "eu"}),
		boxDecl("app", map[string]any{"payload": "ref://web.name"}),
	)
	plan, err := eng.CreatePlan(context.Background(), cfg, st)
	require.NoError(t, err)

	webChange := plan.Change("web")
	require.NotNil(t, webChange)
	assert.Equal(t, ir.ActionReplace, webChange.Action)

	appChange := plan.Change("app")
	require.NotNil(t, appChange)
	assert.Equal(t, ir.ActionUpdate, appChange.Action)
	assert.Equal(t, "depends on replaced resource web", appChange.Reason)

	assert.Equal(t, 1, plan.Summary.Replace)
	assert.Equal(t, 1, plan.Summary.Update)
	assert.Equal(t, 0, plan.Summary.NoOp)

	// The old web instance may only go away after app points at its
	// replacement.
	require.Len(t, plan.Steps, 3)
	ids := []string{plan.Steps[0].ID, plan.Steps[1].ID, plan.Steps[2].ID}
	assert.Equal(t, []string{"create:web", "update:app", "destroy:web"}, ids)
	deposed := stepByID(t, plan, "destroy:web")
	assert.True(t, deposed.Deposed)
	assert.ElementsMatch(t, []string{"create:web", "update:app"}, deposed.DependsOn)
}

func TestCreatePlan_ExpandsCount(t *testing.T) {
	eng := NewEngine(provider.NewRegistry())
	decl := &ir.Declaration{
		Name:  "pinger",
		Kind:  "null_resource",
		Count: 2,
		Attributes: map[string]any{
			"triggers": map[string]any{"idx": "${count.index}"},
		},
	}

	plan, err := eng.CreatePlan(context.Background(), cfgOf(decl), ir.NewState())
	require.NoError(t, err)

	assert.Equal(t, 2, plan.Summary.Create)
	first := plan.Change("pinger[0]")
	require.NotNil(t, first)
	assert.Equal(t, map[string]any{"idx": "0"}, first.Desired["triggers"])
	assert.NotNil(t, plan.Change("pinger[1]"))
}

func TestCreateDestroyPlan_ReverseOrder(t *testing.T) {
	eng := NewEngine(provider.NewRegistry())
	st := ir.NewState()
	st.SetRecord(nullRecord("net", "null-0000net", map[string]any{"rev": "1"}))
	web := nullRecord("web", "null-0000web", map[string]any{"rev": "1"})
	web.Dependencies = []string{"net"}
	st.SetRecord(web)

	plan, err := eng.CreateDestroyPlan(context.Background(), nil, st)
	require.NoError(t, err)

	assert.True(t, plan.Metadata.Destroy)
	assert.Equal(t, 2, plan.Summary.Destroy)
	require.Len(t, plan.Changes, 2)
	assert.Equal(t, "web", plan.Changes[0].Name)
	assert.Equal(t, "net", plan.Changes[1].Name)
	assert.Equal(t, []string{"destroy:web"}, stepByID(t, plan, "destroy:net").DependsOn)
}

func TestCreateDestroyPlan_PreventDestroy(t *testing.T) {
	eng := NewEngine(provider.NewRegistry())
	st := ir.NewState()
	st.SetRecord(nullRecord("web", "null-1a2b3c4d", map[string]any{"rev": "1"}))

	decl := nullDecl("web", map[string]any{"rev": "1"})
	decl.Lifecycle = &ir.Lifecycle{PreventDestroy: true}

	_, err := eng.CreateDestroyPlan(context.Background(), cfgOf(decl), st)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "preventDestroy")
}

func TestRefreshState_UpdatesDriftedOutputs(t *testing.T) {
	eng, fake := newBoxEngine(t)
	st := ir.NewState()
	st.SetRecord(boxRecord("web", "box-1", nil))
	fake.drifted["box-1"] = map[string]any{"id": "box-1", "address": "10.9.9.9"}

	require.NoError(t, eng.RefreshState(context.Background(), st))

	rec, ok := st.Record("web")
	require.True(t, ok)
	assert.Equal(t, "10.9.9.9", rec.Outputs["address"])
	assert.Equal(t, uint64(2), rec.Serial)
}

func TestRefreshState_DropsVanishedResources(t *testing.T) {
	eng, fake := newBoxEngine(t)
	st := ir.NewState()
	st.SetRecord(boxRecord("web", "box-1", nil))
	fake.gone["box-1"] = true

	require.NoError(t, eng.RefreshState(context.Background(), st))

	_, ok := st.Record("web")
	assert.False(t, ok)
	assert.Equal(t, uint64(2), st.Serial)
}

func TestRefreshState_CollectsReadErrors(t *testing.T) {
	eng, fake := newBoxEngine(t)
	st := ir.NewState()
	st.SetRecord(boxRecord("api", "box-1", nil))
	st.SetRecord(boxRecord("web", "box-2", nil))
	fake.readErr["box-2"] = errors.New("boom")
	fake.drifted["box-1"] = map[string]any{"id": "box-1", "address": "10.9.9.9"}

	err := eng.RefreshState(context.Background(), st)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refresh web: boom")

	// The failing record does not stop the rest from refreshing.
	api, ok := st.Record("api")
	require.True(t, ok)
	assert.Equal(t, "10.9.9.9", api.Outputs["address"])
}
