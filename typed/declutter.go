package typed

import (
	"fmt"
	"sort"

	"github.com/gomlx/gomlx/pkg/support/sets"
	"github.com/gomlx/typedgraph/graph"
	"github.com/gomlx/typedgraph/tensor"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// RuleFn proposes a patch for node, or returns nil if it doesn't apply. It must not change the model.
type RuleFn func(model *Model, node *Node) (*Patch, error)

// Rule is a declutter rule applicable to any node, regardless of its operator.
type Rule struct {
	// Name identifies the rule in logs, in DeclutterReport and in DeclutterConfig.DisabledRules.
	Name string

	// Priority orders the rules tried on a node: higher priorities are tried first.
	// The operator's own Declutter is always tried before the global rules.
	Priority int

	Fn RuleFn
}

// FoldConstantsRule is the name of the built-in rule that evaluates nodes whose inputs are all constants.
const FoldConstantsRule = "fold-constants"

var registeredRules []Rule

// RegisterRule adds a declutter rule to the global registry. It is meant to be called from init functions.
func RegisterRule(rule Rule) {
	registeredRules = append(registeredRules, rule)
	sort.SliceStable(registeredRules, func(i, j int) bool {
		return registeredRules[i].Priority > registeredRules[j].Priority
	})
}

func init() {
	RegisterRule(Rule{Name: FoldConstantsRule, Priority: 100, Fn: foldConstants})
}

// DeclutterConfig configures Model.DeclutterWith.
type DeclutterConfig struct {
	// MaxIterations is the maximum number of sweeps over the model. When reached the model is returned as is,
	// and the report is marked as not converged.
	MaxIterations int

	// DisableConstantFolding disables the built-in "fold-constants" rule.
	DisableConstantFolding bool

	// DisabledRules lists the names of global rules, or of operators whose own Declutter, to skip.
	DisabledRules []string
}

// DefaultDeclutterConfig returns the configuration used by Model.Declutter.
func DefaultDeclutterConfig() DeclutterConfig {
	return DeclutterConfig{MaxIterations: 50}
}

// DeclutterReport summarizes a declutter run.
type DeclutterReport struct {
	// Iterations is the number of sweeps over the model.
	Iterations int

	// Applied is the number of patches applied.
	Applied int

	// Converged is false if the run stopped at DeclutterConfig.MaxIterations while rules were still firing.
	Converged bool

	// AppliedRules counts the applied patches per rule name.
	AppliedRules map[string]int
}

// String implements fmt.Stringer.
func (r DeclutterReport) String() string {
	return fmt.Sprintf("%d patches applied in %d iterations (converged=%v): %v", r.Applied, r.Iterations, r.Converged, r.AppliedRules)
}

// Declutter simplifies the model in place with DefaultDeclutterConfig.
func (m *Model) Declutter() (DeclutterReport, error) {
	return m.DeclutterWith(DefaultDeclutterConfig())
}

// DeclutterWith repeatedly sweeps the model in evaluation order, applying the first patch proposed for each
// node, until a sweep proposes nothing or cfg.MaxIterations is reached.
//
// Only genuine errors raised by rules are returned. A patch failing to apply is logged and skipped, and
// reaching the iteration cap is reported in DeclutterReport.Converged: in both cases the model is valid.
func (m *Model) DeclutterWith(cfg DeclutterConfig) (DeclutterReport, error) {
	report := DeclutterReport{AppliedRules: make(map[string]int)}
	disabled := sets.MakeWith(cfg.DisabledRules...)
	if cfg.DisableConstantFolding {
		disabled.Insert(FoldConstantsRule)
	}
	maxIterations := cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultDeclutterConfig().MaxIterations
	}
	for report.Iterations < maxIterations {
		report.Iterations++
		order, err := m.EvalOrder()
		if err != nil {
			return report, err
		}
		changed := false
		for _, id := range order {
			node := m.Node(id)
			if node == nil {
				// Pruned by a previous patch of this sweep.
				continue
			}
			ruleName, patch, err := m.proposePatch(node, disabled)
			if err != nil {
				return report, err
			}
			if patch == nil {
				continue
			}
			if err := patch.ApplyTo(m); err != nil {
				klog.Warningf("declutter: rule %q on node %q: patch rejected: %+v", ruleName, node.Name, err)
				continue
			}
			klog.V(1).Infof("declutter: rule %q applied on node %q (%s)", ruleName, node.Name, node.Op.Name())
			report.Applied++
			report.AppliedRules[ruleName]++
			changed = true
		}
		if !changed {
			report.Converged = true
			return report, nil
		}
	}
	klog.Warningf("declutter: stopped after %d iterations without reaching a fixpoint (%s)", maxIterations, report)
	return report, nil
}

// proposePatch returns the first patch proposed for node, trying the operator's Declutter first.
func (m *Model) proposePatch(node *Node, disabled sets.Set[string]) (string, *Patch, error) {
	if d, ok := node.Op.(Declutterer); ok && !disabled.Has(node.Op.Name()) {
		patch, err := d.Declutter(m, node)
		if err != nil {
			return "", nil, graph.WrapNodeError(node.Op.Name(), node.Name, errors.WithMessage(err, "declutter"))
		}
		if patch != nil && !patch.IsEmpty() {
			patch.Context = append(patch.Context, node.Op.Name())
			return node.Op.Name(), patch, nil
		}
	}
	for _, rule := range registeredRules {
		if disabled.Has(rule.Name) {
			continue
		}
		klog.V(2).Infof("declutter: trying rule %q on node %q", rule.Name, node.Name)
		patch, err := rule.Fn(m, node)
		if err != nil {
			return "", nil, graph.WrapNodeError(node.Op.Name(), node.Name, errors.WithMessagef(err, "rule %q", rule.Name))
		}
		if patch != nil && !patch.IsEmpty() {
			patch.Context = append(patch.Context, rule.Name)
			return rule.Name, patch, nil
		}
	}
	return "", nil, nil
}

// foldConstants replaces a node whose inputs are all constants by the constants of its outputs.
func foldConstants(model *Model, node *Node) (*Patch, error) {
	if len(node.Inputs) == 0 {
		return nil, nil
	}
	if _, isSymbolic := node.Op.(SymbolicEvaluator); isSymbolic {
		return nil, nil
	}
	inputFacts, err := model.NodeInputFacts(node.ID)
	if err != nil {
		return nil, err
	}
	inputs := make([]*tensor.Tensor, len(inputFacts))
	for ii, f := range inputFacts {
		if f.Konst == nil {
			return nil, nil
		}
		inputs[ii] = f.Konst
	}
	outputs, err := model.EvalNode(node, nil, inputs)
	if err != nil {
		// Not foldable now; it will fail again at evaluation time with a proper context.
		klog.V(1).Infof("fold-constants: skipping node %q: %v", node.Name, err)
		return nil, nil
	}
	patch := NewPatch()
	for slot, value := range outputs {
		name := node.Name
		if len(outputs) > 1 {
			name = fmt.Sprintf("%s.%d", node.Name, slot)
		}
		konst, err := patch.AddConst(name, value)
		if err != nil {
			return nil, err
		}
		if err := patch.ShuntOutside(model, OutletID{Node: node.ID, Slot: slot}, konst); err != nil {
			return nil, err
		}
	}
	return patch, nil
}
