package render

import (
	"testing"
	"time"

	"github.com/riveruniversity/mp-print/internal/model"
)

func TestConfigDefaults(t *testing.T) {
	t.Parallel()
	cfg := Config{}.withDefaults()
	if cfg.ContentSetSoft != 20*time.Second || cfg.ContentSetHard != 25*time.Second {
		t.Fatalf("unexpected content-set budgets: %+v", cfg)
	}
	if cfg.PDFGenHard != 8*time.Second {
		t.Fatalf("unexpected PDF gen budget: %v", cfg.PDFGenHard)
	}
	if cfg.PageCloseHard != 3*time.Second {
		t.Fatalf("unexpected page close budget: %v", cfg.PageCloseHard)
	}
	if cfg.HeartbeatInterval != 60*time.Second {
		t.Fatalf("unexpected heartbeat interval: %v", cfg.HeartbeatInterval)
	}
	if cfg.RecycleCloseBudget != 10*time.Second || cfg.RecycleQuietGap != 3*time.Second {
		t.Fatalf("unexpected recycle budgets: %+v", cfg)
	}
}

func TestParseInches(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"4in", 4, true},
		{"101.6mm", 4, true},
		{"10.16cm", 4, true},
		{"2", 2, true},
		{"", 0, false},
		{"bogus", 0, false},
	}
	for _, c := range cases {
		got, ok := parseInches(c.in)
		if ok != c.ok {
			t.Fatalf("parseInches(%q): ok=%v want %v", c.in, ok, c.ok)
		}
		if ok && (got < c.want-0.01 || got > c.want+0.01) {
			t.Fatalf("parseInches(%q) = %v, want ~%v", c.in, got, c.want)
		}
	}
}

func TestBuildPDFOptionsMapsGeometry(t *testing.T) {
	t.Parallel()
	geo := Geometry{
		Width:  "4in",
		Height: "6in",
		Margins: model.Margins{
			Top: "0.1in", Right: "0.1in", Bottom: "0.1in", Left: "0.1in",
		},
		Orientation: model.OrientationLandscape,
	}
	opts := buildPDFOptions(geo)
	if !opts.PreferCSSPageSize {
		t.Fatalf("expected PreferCSSPageSize true")
	}
	if !opts.Landscape {
		t.Fatalf("expected landscape true")
	}
	if opts.PaperWidth == nil || *opts.PaperWidth != 4 {
		t.Fatalf("unexpected paper width: %+v", opts.PaperWidth)
	}
	if opts.PaperHeight == nil || *opts.PaperHeight != 6 {
		t.Fatalf("unexpected paper height: %+v", opts.PaperHeight)
	}
	if opts.MarginTop == nil || *opts.MarginTop != 0.1 {
		t.Fatalf("unexpected margin top: %+v", opts.MarginTop)
	}
}

func TestBuildPDFOptionsPortraitDefault(t *testing.T) {
	t.Parallel()
	opts := buildPDFOptions(Geometry{Width: "4in", Height: "6in"})
	if opts.Landscape {
		t.Fatalf("expected portrait default")
	}
}

func TestStatusReportsNotReadyBeforeStart(t *testing.T) {
	t.Parallel()
	p := New(Config{}, nil)
	st := p.Status()
	if st.Available {
		t.Fatalf("expected pool not available before Start/Render")
	}
}
