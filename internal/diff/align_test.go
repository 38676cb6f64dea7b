package diff

import (
	"reflect"
	"testing"
)

func TestAlignCoversBothSequences(t *testing.T) {
	cases := []struct {
		name string
		a    []string
		b    []string
	}{
		{name: "identical", a: []string{"a", "b", "c"}, b: []string{"a", "b", "c"}},
		{name: "replace middle", a: []string{"a", "b", "c"}, b: []string{"a", "x", "c"}},
		{name: "insert", a: []string{"a", "c"}, b: []string{"a", "b", "c"}},
		{name: "delete", a: []string{"a", "b", "c"}, b: []string{"a", "c"}},
		{name: "disjoint", a: []string{"a", "b"}, b: []string{"x", "y", "z"}},
		{name: "empty source", a: nil, b: []string{"a"}},
		{name: "empty target", a: []string{"a"}, b: nil},
		{name: "both empty", a: nil, b: nil},
		{name: "interleaved", a: []string{"a", "b", "c", "d", "e"}, b: []string{"b", "x", "d", "e", "f"}},
		{name: "repeated lines", a: []string{"a", "a", "b", "a"}, b: []string{"a", "b", "a", "a"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ops := Align(tc.a, tc.b)

			i, j := 0, 0
			for _, op := range ops {
				if op.I1 != i || op.J1 != j {
					t.Fatalf("op %+v does not start at cursor (%d, %d)", op, i, j)
				}
				if op.I2 < op.I1 || op.J2 < op.J1 {
					t.Fatalf("op %+v has a negative range", op)
				}
				if op.I2 == op.I1 && op.J2 == op.J1 {
					t.Fatalf("op %+v covers nothing", op)
				}
				switch op.Kind {
				case Equal:
					if op.I2-op.I1 != op.J2-op.J1 {
						t.Fatalf("equal op %+v has mismatched range lengths", op)
					}
					for k := 0; k < op.I2-op.I1; k++ {
						if tc.a[op.I1+k] != tc.b[op.J1+k] {
							t.Fatalf("equal op %+v covers differing lines", op)
						}
					}
				case Insert:
					if op.I2 != op.I1 {
						t.Fatalf("insert op %+v consumes source lines", op)
					}
				case Delete:
					if op.J2 != op.J1 {
						t.Fatalf("delete op %+v consumes target lines", op)
					}
				case Replace:
					if op.I2 == op.I1 || op.J2 == op.J1 {
						t.Fatalf("replace op %+v has an empty side", op)
					}
				default:
					t.Fatalf("unknown op kind %q", op.Kind)
				}
				i, j = op.I2, op.J2
			}
			if i != len(tc.a) || j != len(tc.b) {
				t.Fatalf("ops end at (%d, %d), want (%d, %d)", i, j, len(tc.a), len(tc.b))
			}
		})
	}
}

func TestAlignIdenticalIsSingleEqual(t *testing.T) {
	a := []string{"one", "two", "three", "four"}
	ops := Align(a, a)
	want := []Op{{Kind: Equal, I1: 0, I2: 4, J1: 0, J2: 4}}
	if !reflect.DeepEqual(ops, want) {
		t.Fatalf("Align(a, a) = %+v, want %+v", ops, want)
	}
}

func TestAlignReplaceScenario(t *testing.T) {
	a := SplitLines("a\nb\nc")
	b := SplitLines("a\nx\nc")
	ops := Align(a, b)
	want := []Op{
		{Kind: Equal, I1: 0, I2: 1, J1: 0, J2: 1},
		{Kind: Replace, I1: 1, I2: 2, J1: 1, J2: 2},
		{Kind: Equal, I1: 2, I2: 3, J1: 2, J2: 3},
	}
	if !reflect.DeepEqual(ops, want) {
		t.Fatalf("Align = %+v, want %+v", ops, want)
	}
}

func TestAlignSymmetry(t *testing.T) {
	a := []string{"a", "b", "c", "d"}
	b := []string{"a", "c", "d", "e"}

	forward := Align(a, b)
	backward := Align(b, a)

	if len(forward) != len(backward) {
		t.Fatalf("op counts differ: %d vs %d", len(forward), len(backward))
	}
	for k, op := range forward {
		mirror := backward[k]
		swapped := Op{Kind: op.Kind, I1: op.J1, I2: op.J2, J1: op.I1, J2: op.I2}
		switch op.Kind {
		case Insert:
			swapped.Kind = Delete
		case Delete:
			swapped.Kind = Insert
		}
		if mirror != swapped {
			t.Fatalf("op %d: backward %+v, want mirror of %+v", k, mirror, op)
		}
	}
}

func TestAlignDeterministic(t *testing.T) {
	a := []string{"x", "a", "b", "x", "a", "c"}
	b := []string{"a", "b", "x", "a", "b", "c"}

	first := Align(a, b)
	for run := 0; run < 20; run++ {
		if got := Align(a, b); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d produced %+v, first run produced %+v", run, got, first)
		}
	}
}

func TestSplitLines(t *testing.T) {
	cases := []struct {
		name string
		text string
		want []string
	}{
		{name: "empty", text: "", want: nil},
		{name: "no trailing newline", text: "a\nb\nc", want: []string{"a", "b", "c"}},
		{name: "trailing newline", text: "a\nb\nc\n", want: []string{"a", "b", "c"}},
		{name: "crlf", text: "a\r\nb\r\n", want: []string{"a", "b"}},
		{name: "blank interior line", text: "a\n\nb", want: []string{"a", "", "b"}},
		{name: "single newline", text: "\n", want: []string{""}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SplitLines(tc.text); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("SplitLines(%q) = %#v, want %#v", tc.text, got, tc.want)
			}
		})
	}
}
