// Package graphtest holds helpers shared by the tests of the operator packages.
package graphtest

import (
	"testing"

	"github.com/gomlx/typedgraph/tensor"
	"github.com/gomlx/typedgraph/typed"
	"github.com/stretchr/testify/require"
)

// RequireTensorsEqual fails the test if got is not exactly want.
func RequireTensorsEqual(t *testing.T, want, got *tensor.Tensor) {
	t.Helper()
	require.Truef(t, want.Equal(got), "want %s, got %s", want, got)
}

// RequireTensorsClose fails the test if got is not close to want, with a tolerance suited to
// floating point rounding.
func RequireTensorsClose(t *testing.T, want, got *tensor.Tensor) {
	t.Helper()
	require.NoError(t, want.CloseEnough(got, true))
}

// OutputNode returns the node producing the ix-th output of the model.
func OutputNode(t *testing.T, m *typed.Model, ix int) *typed.Node {
	t.Helper()
	outputs := m.OutputOutlets()
	require.Greater(t, len(outputs), ix)
	node := m.Node(outputs[ix].Node)
	require.NotNil(t, node)
	return node
}

// CheckDeclutter runs the model on inputs, declutters it, runs it again and requires both runs
// to agree: exactly, or within rounding if approximate. It returns the outputs.
func CheckDeclutter(t *testing.T, m *typed.Model, approximate bool, inputs ...*tensor.Tensor) []*tensor.Tensor {
	t.Helper()
	before, err := m.Run(inputs...)
	require.NoError(t, err)
	report, err := m.Declutter()
	require.NoError(t, err)
	require.True(t, report.Converged, "declutter: %s", report)
	after, err := m.Run(inputs...)
	require.NoError(t, err)
	require.Len(t, after, len(before))
	for ii := range before {
		if approximate {
			RequireTensorsClose(t, before[ii], after[ii])
		} else {
			RequireTensorsEqual(t, before[ii], after[ii])
		}
	}
	return after
}
