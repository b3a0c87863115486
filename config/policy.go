package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Delmoro12/Elevalucro-BPO-sub001/recurrence"
)

// PolicyFile is the YAML shape of recurrence.Policy:
//
//	default_horizon: 12
//	horizons:
//	  weekly: 26
//	  annual: 5
//	due_soon_window: 3
//	max_preview_items: 120
//	batch_size: 24
//	default_currency: BRL
type PolicyFile struct {
	DefaultHorizon  int            `yaml:"default_horizon"`
	Horizons        map[string]int `yaml:"horizons"`
	DueSoonWindow   *int           `yaml:"due_soon_window"`
	MaxPreviewItems int            `yaml:"max_preview_items"`
	BatchSize       int            `yaml:"batch_size"`
	DefaultCurrency string         `yaml:"default_currency"`
}

// LoadPolicy reads a policy YAML file. An empty path returns the default
// policy.
func LoadPolicy(path string) (recurrence.Policy, error) {
	if path == "" {
		return recurrence.DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return recurrence.Policy{}, fmt.Errorf("load policy %q: %w", path, err)
	}
	return ParsePolicy(data)
}

// ParsePolicy overlays the YAML document on the default policy.
func ParsePolicy(data []byte) (recurrence.Policy, error) {
	var pf PolicyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return recurrence.Policy{}, fmt.Errorf("parse policy: %w", err)
	}

	p := recurrence.DefaultPolicy()
	var problems []string

	if pf.DefaultHorizon < 0 {
		problems = append(problems, "default_horizon must not be negative")
	} else if pf.DefaultHorizon > 0 {
		p.DefaultHorizon = pf.DefaultHorizon
	}
	for name, h := range pf.Horizons {
		f := recurrence.Frequency(name)
		switch {
		case !f.IsValid():
			problems = append(problems, fmt.Sprintf("horizons: unknown frequency %q", name))
		case !f.OpenEnded():
			problems = append(problems, fmt.Sprintf("horizons: %s is not open-ended", name))
		case h < 1:
			problems = append(problems, fmt.Sprintf("horizons: %s must be at least 1", name))
		default:
			p.Horizons[f] = h
		}
	}
	if pf.DueSoonWindow != nil {
		if *pf.DueSoonWindow < 0 {
			problems = append(problems, "due_soon_window must not be negative")
		} else {
			p.DueSoonWindow = *pf.DueSoonWindow
		}
	}
	if pf.MaxPreviewItems > 0 {
		p.MaxPreviewItems = pf.MaxPreviewItems
	}
	if pf.BatchSize > 0 {
		p.BatchSize = pf.BatchSize
	}
	if pf.DefaultCurrency != "" {
		if len(pf.DefaultCurrency) != 3 || strings.ToUpper(pf.DefaultCurrency) != pf.DefaultCurrency {
			problems = append(problems, fmt.Sprintf("default_currency must be an ISO 4217 code (got %q)", pf.DefaultCurrency))
		} else {
			p.DefaultCurrency = pf.DefaultCurrency
		}
	}

	if len(problems) > 0 {
		return recurrence.Policy{}, fmt.Errorf("invalid policy: %s", strings.Join(problems, "; "))
	}
	return p, nil
}
