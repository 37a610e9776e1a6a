package preset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sergev/fluxarc/pll"
)

func TestBuiltinCatalogComplete(t *testing.T) {
	want := []string{
		"ibm.dd", "ibm.hd", "ibm.ed",
		"amiga.dd", "amiga.hd", "atari.st",
		"c64.1541", "apple2.gcr",
		"fm.sd", "fm.dd",
		"protection", "damaged",
	}
	for _, name := range want {
		if _, err := Lookup(name); err != nil {
			t.Errorf("Lookup(%q): %v", name, err)
		}
	}
	if got := len(Names()); got < len(want) {
		t.Errorf("Names() has %d entries, want at least %d", got, len(want))
	}
}

func TestLookupUnknown(t *testing.T) {
	_, err := Lookup("nosuch.format")
	if err == nil {
		t.Fatal("expected error for unknown preset")
	}
	if !strings.Contains(err.Error(), "nosuch.format") {
		t.Errorf("error %q does not name the preset", err)
	}
}

func TestPresetConfigs(t *testing.T) {
	p, err := Lookup("ibm.hd")
	if err != nil {
		t.Fatal(err)
	}
	cfg := p.Config()
	if cfg.BitcellNs != 1000 {
		t.Errorf("ibm.hd bitcell = %v, want 1000", cfg.BitcellNs)
	}
	if cfg.Algorithm != pll.AlgorithmDPLL {
		t.Errorf("ibm.hd algorithm = %v, want dpll", cfg.Algorithm)
	}
	if cfg.ClockCentreNs != 1000 || cfg.ClockMinNs <= 0 || cfg.ClockMaxNs <= cfg.ClockMinNs {
		t.Errorf("ibm.hd clock bounds not normalized: min=%v centre=%v max=%v",
			cfg.ClockMinNs, cfg.ClockCentreNs, cfg.ClockMaxNs)
	}

	p, err = Lookup("protection")
	if err != nil {
		t.Fatal(err)
	}
	if cfg := p.Config(); cfg.Algorithm != pll.AlgorithmKalman {
		t.Errorf("protection algorithm = %v, want kalman", cfg.Algorithm)
	}

	p, err = Lookup("c64.1541")
	if err != nil {
		t.Fatal(err)
	}
	if cfg := p.Config(); !cfg.GCROnly {
		t.Error("c64.1541 should set GCROnly")
	}
}

func TestNewDecoderFromPreset(t *testing.T) {
	d, err := NewDecoder("ibm.dd")
	if err != nil {
		t.Fatal(err)
	}
	if d.ClockNs() != 2000 {
		t.Errorf("initial clock = %v, want 2000", d.ClockNs())
	}
	if _, err := NewDecoder("nosuch"); err == nil {
		t.Error("expected error for unknown preset")
	}
}

func TestLoadUserCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user.toml")
	data := `
[[preset]]
name = "lab.custom"
bitcell_ns = 1500
algorithm = "pi"
adjust_percent = 4
phase_percent = 50
sync_bits = 48

[[preset]]
name = "ibm.dd"
bitcell_ns = 2000
algorithm = "kalman"
adjust_percent = 5
phase_percent = 60
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	if err := LoadUserCatalog(path); err != nil {
		t.Fatalf("LoadUserCatalog: %v", err)
	}

	p, err := Lookup("lab.custom")
	if err != nil {
		t.Fatalf("user preset not merged: %v", err)
	}
	if p.BitcellNs != 1500 {
		t.Errorf("lab.custom bitcell = %v, want 1500", p.BitcellNs)
	}

	// User entry overrides the built-in of the same name.
	p, err = Lookup("ibm.dd")
	if err != nil {
		t.Fatal(err)
	}
	if p.Algorithm != "kalman" {
		t.Errorf("ibm.dd algorithm = %q, want kalman override", p.Algorithm)
	}
}

func TestLoadUserCatalogValidation(t *testing.T) {
	cases := []struct {
		name string
		toml string
		want string
	}{
		{
			"missing name",
			"[[preset]]\nbitcell_ns = 2000\n",
			"has no name",
		},
		{
			"bad bitcell",
			"[[preset]]\nname = \"x\"\nbitcell_ns = -1\n",
			"invalid bitcell_ns",
		},
		{
			"bad algorithm",
			"[[preset]]\nname = \"x\"\nbitcell_ns = 2000\nalgorithm = \"fft\"\n",
			"unknown algorithm",
		},
		{
			"bad adjust",
			"[[preset]]\nname = \"x\"\nbitcell_ns = 2000\nadjust_percent = 90\n",
			"invalid adjust_percent",
		},
		{
			"conflicting flags",
			"[[preset]]\nname = \"x\"\nbitcell_ns = 2000\nfm_only = true\ngcr_only = true\n",
			"both fm_only and gcr_only",
		},
	}
	for _, tc := range cases {
		path := filepath.Join(t.TempDir(), "bad.toml")
		if err := os.WriteFile(path, []byte(tc.toml), 0644); err != nil {
			t.Fatal(err)
		}
		err := LoadUserCatalog(path)
		if err == nil {
			t.Errorf("%s: expected error", tc.name)
			continue
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: error %q does not contain %q", tc.name, err, tc.want)
		}
	}
}

func TestLoadUserCatalogMissingFile(t *testing.T) {
	if err := LoadUserCatalog("/nonexistent/presets.toml"); err == nil {
		t.Error("expected error for missing file")
	}
}

func constantSamples(n int, v float64) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func TestDetect(t *testing.T) {
	cases := []struct {
		meanNs float64
		want   string
	}{
		{7000, "fm.sd"},
		{4000, "ibm.dd"},
		{3000, "c64.1541"},
		{2000, "ibm.hd"},
		{1200, "ibm.ed"},
	}
	for _, tc := range cases {
		got, err := Detect(constantSamples(200, tc.meanNs))
		if err != nil {
			t.Errorf("Detect(mean=%v): %v", tc.meanNs, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Detect(mean=%v) = %q, want %q", tc.meanNs, got, tc.want)
		}
	}
}

func TestDetectTooFewSamples(t *testing.T) {
	if _, err := Detect(constantSamples(99, 2000)); err == nil {
		t.Error("expected error for fewer than 100 samples")
	}
}

func TestDetectAveragesFirstThousand(t *testing.T) {
	// Later samples must not influence the estimate.
	samples := append(constantSamples(1000, 4000), constantSamples(5000, 1000)...)
	got, err := Detect(samples)
	if err != nil {
		t.Fatal(err)
	}
	if got != "ibm.dd" {
		t.Errorf("Detect = %q, want ibm.dd", got)
	}
}
