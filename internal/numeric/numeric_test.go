package numeric

import (
	"math"
	"testing"
)

func TestParseStrings(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"$1,234.50", 1234.50, true},
		{"2.5B", 2_500_000_000, true},
		{"1.2k", 1200, true},
		{"3M", 3_000_000, true},
		{"0.5T", 5e11, true},
		{"€99.99", 99.99, true},
		{"£42", 42, true},
		{"-3.4%", -3.4, true},
		{"  7 ", 7, true},
		{"1e3", 1000, true},
		{"N/A", 0, false},
		{"", 0, false},
		{"   ", 0, false},
		{"--", 0, false},
		{"abc", 0, false},
		{"12.5X", 12.5, true}, // unknown suffix, digits recovered on retry
		{"USD 1,500", 1500, true},
	}

	for _, tc := range cases {
		got, ok := Parse(tc.in)
		if ok != tc.ok {
			t.Fatalf("Parse(%q) ok = %v, want %v", tc.in, ok, tc.ok)
		}
		if ok && math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("Parse(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseNonStrings(t *testing.T) {
	if v, ok := Parse(42); !ok || v != 42.0 {
		t.Fatalf("Parse(42) = %v, %v", v, ok)
	}
	if v, ok := Parse(3.14); !ok || v != 3.14 {
		t.Fatalf("Parse(3.14) = %v, %v", v, ok)
	}
	if _, ok := Parse(nil); ok {
		t.Fatal("Parse(nil) should fail")
	}
	if _, ok := Parse(struct{}{}); ok {
		t.Fatal("Parse(struct{}{}) should fail")
	}
	if _, ok := Parse(math.NaN()); ok {
		t.Fatal("Parse(NaN) should fail")
	}
	if _, ok := Parse(math.Inf(1)); ok {
		t.Fatal("Parse(+Inf) should fail")
	}
}
