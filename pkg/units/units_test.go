package units

import (
	"math"
	"testing"

	"github.com/matzehuels/cellforge/pkg/errors"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"0", 0},
		{"1.2", 1.2},
		{"-3", -3},
		{"+5", 5},
		{".5", 0.5},
		{"5.", 5},
		{"400n", 400e-9},
		{"0.4u", 0.4e-6},
		{"1u", 1e-6},
		{"200p", 200e-12},
		{"3f", 3e-15},
		{"2m", 2e-3},
		{"10k", 10e3},
		{"10K", 10e3},
		{"4.7M", 4.7e6},
		{"1G", 1e9},
		{"2T", 2e12},
		{"1e-9", 1e-9},
		{"1E3", 1e3},
		{"2.5e-3m", 2.5e-6},
		{" 7n ", 7e-9},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseRejects(t *testing.T) {
	bad := []string{
		"",
		"abc",
		"1x",
		"1meg",
		"1uu",
		"1.2.3",
		"e5",
		"--1",
		"1 u",
		"vdd",
		"w_read_t",
	}

	for _, in := range bad {
		t.Run(in, func(t *testing.T) {
			_, err := Parse(in)
			if !errors.Is(err, errors.ErrCodeInvalidValue) {
				t.Errorf("Parse(%q) error = %v, want INVALID_VALUE", in, err)
			}
		})
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{1, "1"},
		{1.2, "1.2"},
		{400e-9, "400n"},
		{1e-6, "1u"},
		{-2.5e-3, "-2.5m"},
		{200e-12, "200p"},
		{10e3, "10k"},
		{4.7e6, "4.7M"},
		{1e-18, "1e-18"},
		{2e15, "2e+15"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := Format(tt.in); got != tt.want {
				t.Errorf("Format(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	values := []float64{1, 1.5e-9, 3.3, 27, 4.2e4, 6.02e8, 1e-15}
	for _, v := range values {
		got, err := Parse(Format(v))
		if err != nil {
			t.Fatalf("Parse(Format(%v)) error: %v", v, err)
		}
		if !IsClose(got, v) {
			t.Errorf("Parse(Format(%v)) = %v", v, got)
		}
	}
}

func TestIsClose(t *testing.T) {
	tests := []struct {
		name string
		a, b float64
		want bool
	}{
		{"equal", 1, 1, true},
		{"relative", 1e-6, 1.000001e-6, true},
		{"absolute floor", 0, 5e-9, true},
		{"different", 1e-6, 2e-6, false},
		{"micro vs nano", 1e-6, 1e-9, false},
		{"large", 1000, 1000.1, false},
		{"inf", math.Inf(1), math.Inf(1), true},
		{"nan", math.NaN(), math.NaN(), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsClose(tt.a, tt.b); got != tt.want {
				t.Errorf("IsClose(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestEqual(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"1u", "1e-6", true},
		{"400n", "0.4u", true},
		{"1u", "2u", false},
		{"nch", "nch", true},
		{"nch", "pch", false},
		{"1u", "nch", false},
	}

	for _, tt := range tests {
		if got := Equal(tt.a, tt.b); got != tt.want {
			t.Errorf("Equal(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
