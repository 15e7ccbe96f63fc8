package vclock

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		a    Clock
		b    Clock
		want Ordering
	}{
		{
			name: "empty clocks are equal",
			a:    New(),
			b:    New(),
			want: Equal,
		},
		{
			name: "missing component is zero",
			a:    Clock{"x": 0},
			b:    New(),
			want: Equal,
		},
		{
			name: "strictly before",
			a:    Clock{"x": 1},
			b:    Clock{"x": 2},
			want: Before,
		},
		{
			name: "strictly after",
			a:    Clock{"x": 3, "y": 1},
			b:    Clock{"x": 2, "y": 1},
			want: After,
		},
		{
			name: "concurrent",
			a:    Clock{"x": 1},
			b:    Clock{"y": 1},
			want: Concurrent,
		},
		{
			name: "dominated on all components",
			a:    Clock{"x": 1, "y": 2},
			b:    Clock{"x": 2, "y": 2},
			want: Before,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Compare(tt.b))
		})
	}
}

func TestCompareIsSymmetric(t *testing.T) {
	a := Clock{"x": 2, "y": 1}
	b := Clock{"x": 1, "y": 3}

	assert.Equal(t, Concurrent, a.Compare(b))
	assert.Equal(t, Concurrent, b.Compare(a))

	c := Clock{"x": 2, "y": 3}
	assert.Equal(t, Before, a.Compare(c))
	assert.Equal(t, After, c.Compare(a))
}

func TestTickAndMerge(t *testing.T) {
	c := New()
	assert.Equal(t, uint64(1), c.Tick("a"))
	assert.Equal(t, uint64(2), c.Tick("a"))

	other := Clock{"a": 1, "b": 5}
	c.Merge(other)
	assert.Equal(t, uint64(2), c.Get("a"))
	assert.Equal(t, uint64(5), c.Get("b"))
}

func TestCloneIsIndependent(t *testing.T) {
	c := Clock{"a": 1}
	d := c.Clone()
	d.Tick("a")
	assert.Equal(t, uint64(1), c.Get("a"))
	assert.Equal(t, uint64(2), d.Get("a"))
}

// genClock 生成随机向量时钟
func genClock() gopter.Gen {
	return gen.MapOf(gen.OneConstOf("a", "b", "c", "d"), gen.UInt64Range(0, 8)).
		Map(func(m map[string]uint64) Clock {
			c := New()
			for k, v := range m {
				c[k] = v
			}
			return c
		})
}

func TestProperty_MergeDominatesBoth(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("merged clock dominates both inputs", prop.ForAll(
		func(a, b Clock) bool {
			m := a.Clone()
			m.Merge(b)
			return m.Dominates(a) && m.Dominates(b)
		},
		genClock(),
		genClock(),
	))

	properties.Property("compare is antisymmetric", prop.ForAll(
		func(a, b Clock) bool {
			ab := a.Compare(b)
			ba := b.Compare(a)
			switch ab {
			case Equal:
				return ba == Equal
			case Before:
				return ba == After
			case After:
				return ba == Before
			case Concurrent:
				return ba == Concurrent
			}
			return false
		},
		genClock(),
		genClock(),
	))

	properties.TestingRun(t)
}
