package connpos

import (
	stderrors "errors"
	"math"
	"testing"

	"github.com/matzehuels/cellforge/pkg/errors"
	"github.com/matzehuels/cellforge/pkg/geom"
)

func TestResolve(t *testing.T) {
	pin := geom.Pt(4, 0)

	tests := []struct {
		dir        Direction
		wantAnchor geom.Point
		wantLabel  geom.Point
	}{
		{Above, geom.Pt(4, 10), geom.Pt(0, 5)},
		{Below, geom.Pt(4, -10), geom.Pt(0, 5)},
		{Left, geom.Pt(-6, 0), geom.Pt(5, 0)},
		{Right, geom.Pt(14, 0), geom.Pt(5, 0)},
		{UpRight, geom.Pt(14, 10), geom.Pt(5, 5)},
	}

	for _, tt := range tests {
		t.Run(tt.dir.String(), func(t *testing.T) {
			anchor, label, err := Resolve(pin, tt.dir, DefaultOffset)
			if err != nil {
				t.Fatalf("Resolve error: %v", err)
			}
			if anchor != tt.wantAnchor {
				t.Errorf("anchor = %v, want %v", anchor, tt.wantAnchor)
			}
			if label != tt.wantLabel {
				t.Errorf("label = %v, want %v", label, tt.wantLabel)
			}
		})
	}
}

func TestResolveLabelIsHalfOffset(t *testing.T) {
	positions := []geom.Point{geom.Pt(0, 0), geom.Pt(4, 0), geom.Pt(-12.5, 33), geom.Pt(1e4, -1e4)}
	offsets := []float64{0.5, 1, 7, 10, 123.25}

	for _, dir := range []Direction{Above, Below, Left, Right, UpRight} {
		for _, pos := range positions {
			for _, off := range offsets {
				anchor, label, err := Resolve(pos, dir, off)
				if err != nil {
					t.Fatalf("Resolve(%v, %s, %v) error: %v", pos, dir, off, err)
				}
				delta := anchor.Sub(pos)
				if math.Abs(label.X) != math.Abs(delta.X)/2 || math.Abs(label.Y) != math.Abs(delta.Y)/2 {
					t.Errorf("%s at %v offset %v: label %v is not half of %v", dir, pos, off, label, delta)
				}
			}
		}
	}
}

func TestResolveInvalid(t *testing.T) {
	if _, _, err := Resolve(geom.Pt(0, 0), Above, 0); !stderrors.Is(err, ErrInvalidPlacement) {
		t.Errorf("zero offset error = %v, want INVALID_PLACEMENT", err)
	}
	if _, _, err := Resolve(geom.Pt(0, 0), Above, -3); !stderrors.Is(err, ErrInvalidPlacement) {
		t.Errorf("negative offset error = %v, want INVALID_PLACEMENT", err)
	}
	if _, _, err := Resolve(geom.Pt(0, 0), Direction(42), 10); !stderrors.Is(err, ErrInvalidDirection) {
		t.Errorf("bad direction error = %v, want INVALID_DIRECTION", err)
	}
}

func TestParseDirection(t *testing.T) {
	tests := []struct {
		in   string
		want Direction
	}{
		{"above", Above},
		{"up", Above},
		{"below", Below},
		{"down", Below},
		{"left", Left},
		{"right", Right},
		{"upright", UpRight},
		{"ABOVE", Above},
		{" Left ", Left},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDirection(tt.in)
			if err != nil {
				t.Fatalf("ParseDirection(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseDirection(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}

	for _, bad := range []string{"", "sideways", "upleft", "north"} {
		_, err := ParseDirection(bad)
		if !errors.Is(err, errors.ErrCodeInvalidDirection) {
			t.Errorf("ParseDirection(%q) error = %v, want INVALID_DIRECTION", bad, err)
		}
	}
}

func TestDirectionText(t *testing.T) {
	var d Direction
	if err := d.UnmarshalText([]byte("down")); err != nil {
		t.Fatalf("UnmarshalText error: %v", err)
	}
	text, err := d.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText error: %v", err)
	}
	if string(text) != "below" {
		t.Errorf("MarshalText = %q, want below", text)
	}
	if _, err := Direction(0).MarshalText(); err == nil {
		t.Error("MarshalText of zero direction should fail")
	}
}

func TestDirective(t *testing.T) {
	d := New(geom.Pt(4, 0), "MINUS", Left, WithOffset(4), WithNet("vin"))

	if d.Offset != 4 || d.NetName != "vin" || d.Internal != "MINUS" {
		t.Errorf("New() = %+v", d)
	}

	anchor, label, err := d.Resolve()
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if anchor != geom.Pt(0, 0) || label != geom.Pt(2, 0) {
		t.Errorf("Resolve() = %v, %v", anchor, label)
	}

	if New(geom.Pt(0, 0), "", Above).Offset != DefaultOffset {
		t.Error("New() should apply DefaultOffset")
	}

	var empty *Directive
	if _, _, err := empty.Resolve(); !stderrors.Is(err, ErrInvalidPlacement) {
		t.Errorf("nil directive error = %v, want INVALID_PLACEMENT", err)
	}
}
