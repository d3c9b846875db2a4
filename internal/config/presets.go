package config

import "sort"

var siseParams = map[string]float64{
	"upsilon": 0.017,
	"gamma":   0.1,
	"alpha":   1.0,
	"beta_q1": 0.19,
	"beta_q2": 0.085,
	"beta_q3": 0.075,
	"beta_q4": 0.185,
	"epsilon": 0.000011,
}

func withParams(overrides map[string]float64) map[string]float64 {
	out := cloneParams(siseParams)
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

var Presets = map[string]map[string]*Config{
	"sise": {
		"endemic": {
			Model: "sise", TSpan: TSpanConfig{Duration: 365, Dt: 1}, Workers: DefaultWorkers,
			Params: withParams(nil),
			Nodes: []NodeConfig{
				{ID: 1, U0: map[string]int{"S": 90, "I": 10}},
				{ID: 2, U0: map[string]int{"S": 180, "I": 5}},
				{ID: 3, U0: map[string]int{"S": 40, "I": 0}},
			},
		},
		"seasonal": {
			Model: "sise", TSpan: TSpanConfig{Duration: 3 * 365, Dt: 1}, Workers: DefaultWorkers,
			Params: withParams(map[string]float64{"beta_q1": 0.3, "beta_q2": 0.02, "beta_q3": 0.02, "beta_q4": 0.3}),
			Nodes: []NodeConfig{
				{ID: 1, U0: map[string]int{"S": 95, "I": 5}, V0: map[string]float64{"phi": 0.5}},
			},
		},
		"empty_node": {
			Model: "sise", TSpan: TSpanConfig{Duration: 365, Dt: 1}, Workers: DefaultWorkers,
			Params: withParams(map[string]float64{"epsilon": 0.001}),
			Nodes: []NodeConfig{
				{ID: 1, U0: map[string]int{"S": 0, "I": 0}},
			},
		},
		"cleared": {
			Model: "sise", TSpan: TSpanConfig{Duration: 365, Dt: 1}, Workers: DefaultWorkers,
			Params: withParams(map[string]float64{"epsilon": 0}),
			Nodes: []NodeConfig{
				{ID: 1, U0: map[string]int{"S": 100, "I": 0}, V0: map[string]float64{"phi": 2}},
			},
		},
	},
}

// GetPreset returns a copy of the named preset, or nil.
func GetPreset(model, preset string) *Config {
	modelPresets, ok := Presets[model]
	if !ok {
		return nil
	}
	cfg, ok := modelPresets[preset]
	if !ok {
		return nil
	}
	return cfg.Clone()
}

func ListPresets(model string) []string {
	modelPresets, ok := Presets[model]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(modelPresets))
	for name := range modelPresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
