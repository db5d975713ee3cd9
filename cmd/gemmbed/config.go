package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/LynnColeArt/gemmbed"
)

// Config is the sweep configuration file: the kernels to verify and the
// sweep parameters shared by all of them.
type Config struct {
	Kernels []KernelSpec `yaml:"kernels"`

	Alpha float32 `yaml:"alpha"`
	Beta  float32 `yaml:"beta"`
	Check string  `yaml:"check"` // exact | relative

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// KernelSpec describes one kernel instantiation in the file.
type KernelSpec struct {
	Name string `yaml:"name"`

	ElementA string `yaml:"element_a"`
	ElementB string `yaml:"element_b"`
	ElementC string `yaml:"element_c"`
	ElementD string `yaml:"element_d"`

	LayoutA string `yaml:"layout_a"` // row | col
	LayoutB string `yaml:"layout_b"`
	LayoutC string `yaml:"layout_c"`
	LayoutD string `yaml:"layout_d"`

	AlignmentA int `yaml:"alignment_a"`
	AlignmentB int `yaml:"alignment_b"`

	Tile struct {
		M int `yaml:"m"`
		N int `yaml:"n"`
		K int `yaml:"k"`
	} `yaml:"tile"`
	Stages int `yaml:"stages"`

	Scheduler string `yaml:"scheduler"` // persistent | streamk
	Batched   bool   `yaml:"batched"`
	Pingpong  bool   `yaml:"pingpong"`
	Sparse    bool   `yaml:"sparse"`

	Fusion *FusionSpec `yaml:"fusion"`
}

// FusionSpec enables epilogue capabilities for a kernel.
type FusionSpec struct {
	PerRowBias  bool   `yaml:"per_row_bias"`
	DeBias      bool   `yaml:"de_bias"`
	PerRowScale bool   `yaml:"per_row_scale"`
	ScaleFactor bool   `yaml:"scale_factor"`
	AuxIn       bool   `yaml:"aux_in"`
	AuxOut      bool   `yaml:"aux_out"`
	AbsMax      bool   `yaml:"abs_max"`
	Activation  string `yaml:"activation"` // identity | relu | clamp | gelu | silu
	Legacy      bool   `yaml:"legacy"`
}

func loadConfig(path string) (Config, error) {
	cfg := Config{Alpha: 1, Check: "relative"}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) checkMode() (gemmbed.CheckEquality, error) {
	switch c.Check {
	case "", "relative":
		return gemmbed.CheckRelative, nil
	case "exact":
		return gemmbed.CheckExact, nil
	default:
		return 0, fmt.Errorf("unknown check mode %q", c.Check)
	}
}

func parseElement(s string) (gemmbed.Element, error) {
	switch s {
	case "", "f32":
		return gemmbed.ElementF32, nil
	case "f16":
		return gemmbed.ElementF16, nil
	case "bf16":
		return gemmbed.ElementBF16, nil
	case "e4m3":
		return gemmbed.ElementE4M3, nil
	case "e5m2":
		return gemmbed.ElementE5M2, nil
	case "i8":
		return gemmbed.ElementI8, nil
	case "b1":
		return gemmbed.ElementB1, nil
	default:
		return 0, fmt.Errorf("unknown element type %q", s)
	}
}

func parseLayout(s string) (gemmbed.Layout, error) {
	switch s {
	case "", "row":
		return gemmbed.RowMajor, nil
	case "col":
		return gemmbed.ColMajor, nil
	default:
		return 0, fmt.Errorf("unknown layout %q", s)
	}
}

func parseActivation(s string) (gemmbed.ActivationKind, error) {
	switch s {
	case "", "identity":
		return gemmbed.ActIdentity, nil
	case "relu":
		return gemmbed.ActReLU, nil
	case "clamp":
		return gemmbed.ActClamp, nil
	case "gelu":
		return gemmbed.ActScaledGELU, nil
	case "silu":
		return gemmbed.ActSiLU, nil
	default:
		return 0, fmt.Errorf("unknown activation %q", s)
	}
}

// traits converts a kernel spec to kernel traits.
func (s KernelSpec) traits() (gemmbed.Traits, error) {
	t := gemmbed.Traits{
		Name:           s.Name,
		AlignmentA:     s.AlignmentA,
		AlignmentB:     s.AlignmentB,
		Tile:           gemmbed.TileShape{M: s.Tile.M, N: s.Tile.N, K: s.Tile.K},
		Stages:         s.Stages,
		BatchSupported: s.Batched,
		Pingpong:       s.Pingpong,
	}
	if t.Tile.M == 0 {
		t.Tile = gemmbed.TileShape{M: 128, N: 128, K: 32}
	}
	if t.Stages == 0 {
		t.Stages = 4
	}

	var err error
	if t.ElementA, err = parseElement(s.ElementA); err != nil {
		return t, err
	}
	if t.ElementB, err = parseElement(s.ElementB); err != nil {
		return t, err
	}
	if t.ElementC, err = parseElement(s.ElementC); err != nil {
		return t, err
	}
	if t.ElementD, err = parseElement(s.ElementD); err != nil {
		return t, err
	}
	if t.LayoutA, err = parseLayout(s.LayoutA); err != nil {
		return t, err
	}
	if t.LayoutB, err = parseLayout(s.LayoutB); err != nil {
		return t, err
	}
	if t.LayoutC, err = parseLayout(s.LayoutC); err != nil {
		return t, err
	}
	if t.LayoutD, err = parseLayout(s.LayoutD); err != nil {
		return t, err
	}

	switch s.Scheduler {
	case "", "persistent":
		t.Scheduler = gemmbed.SchedulerPersistent
	case "streamk":
		t.Scheduler = gemmbed.SchedulerStreamK
	default:
		return t, fmt.Errorf("unknown scheduler %q", s.Scheduler)
	}

	if s.Fusion != nil {
		act, err := parseActivation(s.Fusion.Activation)
		if err != nil {
			return t, err
		}
		t.Fusion = &gemmbed.FusionCaps{
			PerRowBias:  s.Fusion.PerRowBias,
			DeBias:      s.Fusion.DeBias,
			PerRowScale: s.Fusion.PerRowScale,
			ScaleFactor: s.Fusion.ScaleFactor,
			AuxIn:       s.Fusion.AuxIn,
			AuxOut:      s.Fusion.AuxOut,
			AbsMax:      s.Fusion.AbsMax,
			Activation:  act,
		}
		t.LegacyEpilogue = s.Fusion.Legacy
		t.ElementBias = gemmbed.ElementF32
		t.ElementAmax = gemmbed.ElementF32
		t.ElementAux = t.ElementD
		t.LayoutAux = t.LayoutD
	}
	return t, nil
}
