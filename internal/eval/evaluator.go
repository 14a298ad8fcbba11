// Package eval turns Pkl declaration modules into IR.
package eval

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/apple/pkl-go/pkl"

	"github.com/terrane-io/terrane/internal/ir"
)

// Evaluator evaluates Pkl declaration modules into IR types.
type Evaluator struct {
	projectDir string
}

func NewEvaluator(projectDir string) *Evaluator {
	return &Evaluator{
		projectDir: projectDir,
	}
}

// LoadConfig evaluates the declaration entry point and returns the IR.
// External properties are exposed to the module as Pkl external properties.
func (e *Evaluator) LoadConfig(ctx context.Context, entryPoint string, properties map[string]string) (*ir.Config, error) {
	opts := []func(*pkl.EvaluatorOptions){pkl.PreconfiguredOptions}
	if len(properties) > 0 {
		opts = append(opts, func(o *pkl.EvaluatorOptions) {
			if o.Properties == nil {
				o.Properties = make(map[string]string)
			}
			for k, v := range properties {
				o.Properties[k] = v
			}
		})
	}

	evaluator, err := e.newEvaluator(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create Pkl evaluator: %w", err)
	}
	defer evaluator.Close()

	var cfg ir.Config
	if err := evaluator.EvaluateModule(ctx, pkl.FileSource(entryPoint), &cfg); err != nil {
		return nil, fmt.Errorf("failed to evaluate declarations: %w", err)
	}
	if cfg.Resources == nil {
		cfg.Resources = []*ir.Declaration{}
	}
	return &cfg, nil
}

// newEvaluator prefers a project evaluator when the directory carries a
// PklProject file, so package dependencies resolve; plain modules evaluate
// without one.
func (e *Evaluator) newEvaluator(ctx context.Context, opts []func(*pkl.EvaluatorOptions)) (pkl.Evaluator, error) {
	if _, err := os.Stat(filepath.Join(e.projectDir, "PklProject")); err == nil {
		u, err := url.Parse("file://" + e.projectDir + "/")
		if err != nil {
			return nil, fmt.Errorf("failed to parse project directory URL: %w", err)
		}
		return pkl.NewProjectEvaluator(ctx, u.Path, opts...)
	}
	return pkl.NewEvaluator(ctx, opts...)
}
