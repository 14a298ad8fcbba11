package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/terrane-io/terrane/internal/ir"
)

var policyFilePath string

var policyCmd = &cobra.Command{
	Use:   "policy-check <plan-file>",
	Short: "Check a saved plan against policy rules",
	Long: `Evaluates a plan written by plan -o against rules from a JSON
policy file. Error-severity violations fail the check, which makes the
command usable as a CI gate between plan and apply.

Example policy file:
  {
    "rules": [
      {
        "name": "no-public-acl",
        "description": "buckets must not be public",
        "kind": "aws_s3_bucket",
        "condition": "property_not_equals",
        "property": "acl",
        "value": "private",
        "severity": "error"
      }
    ]
  }

Conditions: deny_action, property_equals, property_not_equals,
require_property.`,
	Args: cobra.ExactArgs(1),
	RunE: runPolicyCheck,
}

func init() {
	policyCmd.Flags().StringVarP(&policyFilePath, "policy", "p", ".terrane/policies.json", "Path to the policy file")
}

// PolicyFile is a collection of policy rules.
type PolicyFile struct {
	Rules []PolicyRule `json:"rules"`
}

// PolicyRule is a single check. An empty Kind applies the rule to every
// resource kind.
type PolicyRule struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Kind        string `json:"kind"`
	Condition   string `json:"condition"`
	Property    string `json:"property"`
	Value       string `json:"value"`
	Severity    string `json:"severity"` // "error" (default) or "warning"
}

// PolicyViolation is one failed check.
type PolicyViolation struct {
	Rule     PolicyRule
	Resource string
	Message  string
}

func runPolicyCheck(cmd *cobra.Command, args []string) error {
	plan, err := loadPlanFile(args[0])
	if err != nil {
		return err
	}

	policyData, err := os.ReadFile(policyFilePath)
	if err != nil {
		return fmt.Errorf("failed to read policy file %s: %w", policyFilePath, err)
	}
	var policies PolicyFile
	if err := json.Unmarshal(policyData, &policies); err != nil {
		return fmt.Errorf("failed to parse policy file: %w", err)
	}

	violations := evaluatePolicies(plan, &policies)

	errors, warnings := 0, 0
	for _, v := range violations {
		if strings.EqualFold(v.Rule.Severity, "warning") {
			warnings++
			fmt.Printf("%s[WARN]%s %s: %s\n", colorize(colorYellow), colorize(colorReset), v.Rule.Name, v.Message)
		} else {
			errors++
			fmt.Printf("%s[ERROR]%s %s: %s\n", colorize(colorRed), colorize(colorReset), v.Rule.Name, v.Message)
		}
	}

	fmt.Printf("\nPolicy check complete: %d error(s), %d warning(s)\n", errors, warnings)
	if errors > 0 {
		return fmt.Errorf("policy check failed with %d error(s)", errors)
	}
	return nil
}

func evaluatePolicies(plan *ir.Plan, policies *PolicyFile) []PolicyViolation {
	var violations []PolicyViolation

	for _, rule := range policies.Rules {
		for _, change := range plan.Changes {
			if rule.Kind != "" && change.Kind != rule.Kind {
				continue
			}

			switch rule.Condition {
			case "deny_action":
				if strings.EqualFold(string(change.Action), rule.Value) {
					violations = append(violations, PolicyViolation{
						Rule:     rule,
						Resource: change.Name,
						Message:  fmt.Sprintf("resource %s: action %s is denied", change.Name, change.Action),
					})
				}

			case "property_equals":
				if val, ok := change.Desired[rule.Property]; ok && fmt.Sprintf("%v", val) == rule.Value {
					violations = append(violations, PolicyViolation{
						Rule:     rule,
						Resource: change.Name,
						Message:  fmt.Sprintf("resource %s: %s = %v is forbidden", change.Name, rule.Property, val),
					})
				}

			case "property_not_equals":
				if val, ok := change.Desired[rule.Property]; ok && fmt.Sprintf("%v", val) != rule.Value {
					violations = append(violations, PolicyViolation{
						Rule:     rule,
						Resource: change.Name,
						Message:  fmt.Sprintf("resource %s: %s = %v, expected %s", change.Name, rule.Property, val, rule.Value),
					})
				}

			case "require_property":
				switch change.Action {
				case ir.ActionCreate, ir.ActionUpdate, ir.ActionReplace:
					if _, ok := change.Desired[rule.Property]; !ok {
						violations = append(violations, PolicyViolation{
							Rule:     rule,
							Resource: change.Name,
							Message:  fmt.Sprintf("resource %s: required property %q is missing", change.Name, rule.Property),
						})
					}
				}
			}
		}
	}
	return violations
}
