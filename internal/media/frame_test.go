package media

import (
	"errors"
	"image"
	"image/color"
	"testing"
)

func TestGeometryFrameSize(t *testing.T) {
	t.Parallel()

	g := DefaultGeometry()
	if got := g.FrameSize(); got != 40*16*3 {
		t.Errorf("FrameSize: got %d, want %d", got, 40*16*3)
	}
	if got := g.String(); got != "40x16" {
		t.Errorf("String: got %q, want %q", got, "40x16")
	}
}

func TestGeometryValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		g       Geometry
		wantErr bool
	}{
		{name: "default", g: DefaultGeometry()},
		{name: "zero width", g: Geometry{Width: 0, Height: 16}, wantErr: true},
		{name: "negative height", g: Geometry{Width: 40, Height: -1}, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.g.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
			if err != nil && !errors.Is(err, ErrGeometry) {
				t.Errorf("error should wrap ErrGeometry: %v", err)
			}
		})
	}
}

func TestFromRawCopies(t *testing.T) {
	t.Parallel()

	g := Geometry{Width: 2, Height: 1}
	raw := []byte{1, 2, 3, 4, 5, 6}
	f, err := FromRaw(g, raw)
	if err != nil {
		t.Fatalf("FromRaw: %v", err)
	}
	raw[0] = 99
	if f.Pix[0] != 1 {
		t.Error("FromRaw should copy the input")
	}
	r, gr, b := f.At(1, 0)
	if r != 4 || gr != 5 || b != 6 {
		t.Errorf("At(1,0): got (%d,%d,%d), want (4,5,6)", r, gr, b)
	}
}

func TestFromRawWrongSize(t *testing.T) {
	t.Parallel()

	_, err := FromRaw(Geometry{Width: 2, Height: 2}, make([]byte, 5))
	if !errors.Is(err, ErrGeometry) {
		t.Errorf("got %v, want ErrGeometry", err)
	}
}

func TestFromRGBADropsAlpha(t *testing.T) {
	t.Parallel()

	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	img.Set(2, 1, color.RGBA{R: 10, G: 20, B: 30, A: 255})

	f := FromRGBA(Geometry{Width: 3, Height: 2}, img)
	if len(f.Pix) != 3*2*BytesPerPixel {
		t.Fatalf("Pix length: got %d, want %d", len(f.Pix), 18)
	}
	r, g, b := f.At(2, 1)
	if r != 10 || g != 20 || b != 30 {
		t.Errorf("At(2,1): got (%d,%d,%d), want (10,20,30)", r, g, b)
	}
}
