package tdim

import (
	"testing"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstantFolding(t *testing.T) {
	s := Stream()
	require.True(t, s.SubInt(2).SubInt(2).Equal(MustParse("S-4")))
	assert.Equal(t, "S-4", s.SubInt(2).SubInt(2).String())
	for k := int64(-5); k <= 5; k++ {
		assert.True(t, s.SubInt(k).AddInt(k).Equal(s), "(S-%d)+%d", k, k)
	}
	assert.True(t, s.Sub(s).IsZero())
	assert.Equal(t, "2*S+3", s.Add(s).AddInt(3).String())
}

func TestConcreteRoundTrip(t *testing.T) {
	for x := int64(-7); x <= 7; x++ {
		for y := int64(-7); y <= 7; y++ {
			assert.Equal(t, x+y, must.M1(Int(x).Add(Int(y)).ToInt64()))
			assert.Equal(t, x-y, must.M1(Int(x).Sub(Int(y)).ToInt64()))
			assert.Equal(t, x*y, must.M1(Int(x).Mul(Int(y)).ToInt64()))
			if y == 0 {
				_, err := Int(x).DivInt(y)
				require.ErrorIs(t, err, ErrUnsupported)
				continue
			}
			q, err := Int(x).DivInt(y)
			require.NoError(t, err)
			assert.Equal(t, floorDiv(x, y), must.M1(q.ToInt64()))
			r, err := Int(x).RemInt(y)
			require.NoError(t, err)
			assert.Equal(t, x-y*floorDiv(x, y), must.M1(r.ToInt64()))
		}
	}
}

func TestSymbolicDivision(t *testing.T) {
	s := Stream()
	for x := int64(-4); x <= 4; x++ {
		for y := int64(-6); y <= 6; y++ {
			e := s.MulInt(x).AddInt(y)
			for d := int64(1); d <= 5; d++ {
				q, err := e.DivInt(d)
				require.NoError(t, err)
				r, err := e.RemInt(d)
				require.NoError(t, err)
				for v := int64(0); v <= 9; v++ {
					values := SymbolValues{StreamSymbol: v}
					want := x*v + y
					assert.Equal(t, floorDiv(want, d), must.M1(q.EvalToInt64(values)), "(%s)/%d at S=%d", e, d, v)
					assert.Equal(t, floorMod(want, d), must.M1(r.EvalToInt64(values)), "(%s)%%%d at S=%d", e, d, v)
				}
			}
		}
	}

	q, err := s.MulInt(2).AddInt(4).DivInt(2)
	require.NoError(t, err)
	assert.Equal(t, "S+2", q.String())

	q, err = s.SubInt(2).DivInt(2)
	require.NoError(t, err)
	assert.Equal(t, "S/2-1", q.String())

	q, err = s.DivInt(2)
	require.NoError(t, err)
	q, err = q.DivInt(2)
	require.NoError(t, err)
	assert.Equal(t, "S/4", q.String())

	_, err = s.Div(Sym("T"))
	require.ErrorIs(t, err, ErrUnsupported)
	one, err := s.Div(s)
	require.NoError(t, err)
	assert.True(t, one.IsOne())
}

func TestNotConcrete(t *testing.T) {
	_, err := Stream().AddInt(1).ToInt64()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrNotConcrete))

	v, err := MustParse("S*2+batch").EvalToInt64(SymbolValues{"S": 3, "batch": 4})
	require.NoError(t, err)
	assert.Equal(t, int64(10), v)

	_, err = MustParse("S*2+batch").EvalToInt64(SymbolValues{"S": 3})
	require.ErrorIs(t, err, ErrNotConcrete)

	assert.Equal(t, ProbeValue-2, MustParse("S-2").EvalAt(ProbeValue))
	assert.Equal(t, []Symbol{"S", "T", "batch"}, MustParse("S*T+batch").Symbols())
}

func TestSign(t *testing.T) {
	for _, tc := range []struct {
		expr            string
		negative, known bool
	}{
		{"-3", true, true},
		{"0", false, true},
		{"S+1", false, true},
		{"-S-1", true, true},
		{"S-2", false, false},
		{"S/2", false, true},
		{"-(S/2)-1", true, true},
	} {
		negative, known := MustParse(tc.expr).IsNegative()
		assert.Equal(t, tc.known, known, tc.expr)
		assert.Equal(t, tc.negative, negative, tc.expr)
	}

	c, known := MustParse("S+1").Compare(Stream())
	require.True(t, known)
	assert.Equal(t, 1, c)
	_, known = Stream().Compare(Sym("T"))
	assert.False(t, known)
}

func TestParseCanonical(t *testing.T) {
	for _, text := range []string{"0", "7", "-3", "S", "2*S-4", "-S+3", "S*T+1", "S*S-1", "(S+1)/2", "3*(S/2)", "(S/2)*T"} {
		d, err := Parse(text)
		require.NoError(t, err, text)
		assert.Equal(t, text, d.String())
		assert.True(t, MustParse(d.String()).Equal(d))
	}
	assert.True(t, MustParse("(S+1)*(S-1)").Equal(MustParse("S*S-1")))
	assert.True(t, MustParse("2 * (S - 2) - S").Equal(MustParse("S-4")))

	for _, bad := range []string{"", "S+", "(S", "S/T", "4/0", "S $ 2"} {
		_, err := Parse(bad)
		assert.Error(t, err, bad)
	}
}

func TestBroadcast(t *testing.T) {
	s := Stream()
	d, err := Broadcast(Int(1), s)
	require.NoError(t, err)
	assert.True(t, d.Equal(s))
	d, err = Broadcast(s, s)
	require.NoError(t, err)
	assert.True(t, d.Equal(s))
	_, err = Broadcast(Int(2), Int(3))
	require.Error(t, err)

	shape, err := BroadcastShapes([]Dim{Int(2), Int(1)}, []Dim{Int(3)})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, must.M1(ToInts(shape)))
	assert.Equal(t, "6", Product(shape).String())
}
