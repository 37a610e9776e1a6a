// Package preset maps well-known disk formats to decoder configurations.
// The built-in catalog is embedded; a user catalog file can be merged over
// it to add formats or override tuning.
package preset

import (
	_ "embed"
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/sergev/fluxarc/pll"
)

//go:embed presets.toml
var builtinCatalogData []byte

// Preset is one named decoder configuration in a catalog file.
type Preset struct {
	Name             string  `toml:"name"`
	Description      string  `toml:"description"`
	BitcellNs        float64 `toml:"bitcell_ns"`
	Algorithm        string  `toml:"algorithm"`
	AdjustPercent    float64 `toml:"adjust_percent"`
	PhasePercent     float64 `toml:"phase_percent"`
	SyncBits         int     `toml:"sync_bits"`
	MaxZeros         int     `toml:"max_zeros"`
	FMOnly           bool    `toml:"fm_only"`
	GCROnly          bool    `toml:"gcr_only"`
	GainP            float64 `toml:"gain_p"`
	GainI            float64 `toml:"gain_i"`
	GainD            float64 `toml:"gain_d"`
	ProcessNoise     float64 `toml:"process_noise"`
	MeasurementNoise float64 `toml:"measurement_noise"`
	AdaptiveGain     bool    `toml:"adaptive_gain"`
	NoiseFilterNs    float64 `toml:"noise_filter_ns"`
}

type catalogFile struct {
	Preset []Preset `toml:"preset"`
}

var validAlgorithms = map[string]bool{
	"threshold": true,
	"dpll":      true,
	"pi":        true,
	"adaptive":  true,
	"kalman":    true,
	"scp":       true,
}

var catalog map[string]Preset

func init() {
	var file catalogFile
	if err := toml.Unmarshal(builtinCatalogData, &file); err != nil {
		panic(fmt.Sprintf("cannot parse built-in preset catalog: %v", err))
	}
	catalog = make(map[string]Preset, len(file.Preset))
	for _, p := range file.Preset {
		catalog[p.Name] = p
	}
}

// Config converts the preset into a decoder configuration.
func (p Preset) Config() pll.Config {
	cfg := pll.Config{
		BitcellNs:        p.BitcellNs,
		AdjustPercent:    p.AdjustPercent,
		PhasePercent:     p.PhasePercent,
		SyncBits:         p.SyncBits,
		MaxZeros:         p.MaxZeros,
		FMOnly:           p.FMOnly,
		GCROnly:          p.GCROnly,
		Algorithm:        pll.ParseAlgorithm(p.Algorithm),
		GainP:            p.GainP,
		GainI:            p.GainI,
		GainD:            p.GainD,
		ProcessNoise:     p.ProcessNoise,
		MeasurementNoise: p.MeasurementNoise,
		AdaptiveGain:     p.AdaptiveGain,
		NoiseFilterNs:    p.NoiseFilterNs,
		TrackQuality:     true,
	}
	cfg.Normalize()
	return cfg
}

// Lookup returns the preset with the given name.
func Lookup(name string) (Preset, error) {
	p, ok := catalog[name]
	if !ok {
		return Preset{}, fmt.Errorf("preset %q not found in catalog", name)
	}
	return p, nil
}

// Names returns all catalog preset names, sorted.
func Names() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewDecoder constructs a decoder configured from the named preset.
func NewDecoder(name string) (*pll.Decoder, error) {
	p, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	return pll.NewDecoder(p.Config()), nil
}

// LoadUserCatalog reads a TOML catalog file and merges its presets over the
// built-in catalog. A user preset with a built-in name replaces it.
func LoadUserCatalog(path string) error {
	var file catalogFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return fmt.Errorf("failed to parse preset catalog at %s: %w", path, err)
	}
	for i, p := range file.Preset {
		if p.Name == "" {
			return fmt.Errorf("preset %d in %s has no name", i, path)
		}
		if p.BitcellNs <= 0 {
			return fmt.Errorf("preset %q has invalid bitcell_ns: %v (must be positive)", p.Name, p.BitcellNs)
		}
		if p.Algorithm != "" && !validAlgorithms[p.Algorithm] {
			return fmt.Errorf("preset %q has unknown algorithm %q", p.Name, p.Algorithm)
		}
		if p.AdjustPercent < 0 || p.AdjustPercent > 50 {
			return fmt.Errorf("preset %q has invalid adjust_percent: %v (must be 0..50)", p.Name, p.AdjustPercent)
		}
		if p.PhasePercent < 0 || p.PhasePercent > 90 {
			return fmt.Errorf("preset %q has invalid phase_percent: %v (must be 0..90)", p.Name, p.PhasePercent)
		}
		if p.FMOnly && p.GCROnly {
			return fmt.Errorf("preset %q sets both fm_only and gcr_only", p.Name)
		}
	}
	for _, p := range file.Preset {
		catalog[p.Name] = p
	}
	return nil
}

// Detect suggests a preset name from a sample of raw flux intervals in
// nanoseconds. It averages up to the first 1000 samples and picks the format
// whose interval spread matches. At least 100 samples are required.
func Detect(samples []float64) (string, error) {
	if len(samples) < 100 {
		return "", fmt.Errorf("need at least 100 flux samples to detect format, got %d", len(samples))
	}
	n := len(samples)
	if n > 1000 {
		n = 1000
	}
	var sum float64
	for _, v := range samples[:n] {
		sum += v
	}
	mean := sum / float64(n)

	switch {
	case mean > 6000:
		return "fm.sd", nil
	case mean > 3500:
		return "ibm.dd", nil
	case mean > 2500:
		return "c64.1541", nil
	case mean > 1500:
		return "ibm.hd", nil
	default:
		return "ibm.ed", nil
	}
}
