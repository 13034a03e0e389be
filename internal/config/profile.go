package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProfileNames are the project profile file names, in lookup order.
var ProfileNames = []string{".keepalive.yaml", ".keepalive.yml"}

// Profile overrides the signal vocabulary for one project. Nil fields leave
// the loaded configuration alone.
type Profile struct {
	Provider string          `yaml:"provider"`
	Target   string          `yaml:"target"`
	Commands *CommandsConfig `yaml:"commands"`
	Signals  *SignalsConfig  `yaml:"signals"`
}

var envPlaceholderRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// FindProfile returns the first profile file present in dir, or "".
func FindProfile(dir string) string {
	for _, name := range ProfileNames {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

// LoadProfile reads the project profile in dir. A directory without one
// yields (nil, "", nil).
func LoadProfile(dir string) (*Profile, string, error) {
	path := FindProfile(dir)
	if path == "" {
		return nil, "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("reading %s: %w", path, err)
	}
	p, err := ParseProfile(data)
	if err != nil {
		return nil, path, fmt.Errorf("parsing %s: %w", path, err)
	}
	return p, path, nil
}

// ParseProfile decodes a profile, expanding ${VAR} placeholders first.
// Unknown keys are rejected so typos do not pass silently.
func ParseProfile(data []byte) (*Profile, error) {
	expanded, err := expandEnvPlaceholders(data)
	if err != nil {
		return nil, err
	}

	var p Profile
	dec := yaml.NewDecoder(bytes.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return &p, nil
		}
		return nil, err
	}
	return &p, nil
}

// ApplyProfile layers p over cfg. Non-empty fields win.
func ApplyProfile(cfg *Config, p *Profile) {
	if cfg == nil || p == nil {
		return
	}
	if p.Provider != "" {
		cfg.Provider = strings.ToLower(strings.TrimSpace(p.Provider))
	}
	if p.Target != "" {
		cfg.Target = p.Target
	}
	if c := p.Commands; c != nil {
		if c.ContinueText != "" {
			cfg.Commands.ContinueText = c.ContinueText
		}
		if c.EnhancedText != "" {
			cfg.Commands.EnhancedText = c.EnhancedText
		}
		if c.EndMarker != "" {
			cfg.Commands.EndMarker = c.EndMarker
		}
		if c.StopMarker != "" {
			cfg.Commands.StopMarker = c.StopMarker
		}
		if c.EnhancedLookback > 0 {
			cfg.Commands.EnhancedLookback = c.EnhancedLookback
		}
	}
	if s := p.Signals; s != nil {
		if len(s.ResumeTexts) > 0 {
			cfg.Signals.ResumeTexts = s.ResumeTexts
		}
		if len(s.ResumeLinkTexts) > 0 {
			cfg.Signals.ResumeLinkTexts = s.ResumeLinkTexts
		}
		if len(s.ErrorTexts) > 0 {
			cfg.Signals.ErrorTexts = s.ErrorTexts
		}
		if len(s.RetryLabels) > 0 {
			cfg.Signals.RetryLabels = s.RetryLabels
		}
		if len(s.NoProgressPatterns) > 0 {
			cfg.Signals.NoProgressPatterns = s.NoProgressPatterns
		}
	}
}

func expandEnvPlaceholders(in []byte) ([]byte, error) {
	missing := make(map[string]struct{})

	out := envPlaceholderRe.ReplaceAllStringFunc(string(in), func(m string) string {
		key := strings.TrimSuffix(strings.TrimPrefix(m, "${"), "}")
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		missing[key] = struct{}{}
		return m
	})

	if len(missing) == 0 {
		return []byte(out), nil
	}

	keys := make([]string, 0, len(missing))
	for k := range missing {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return nil, fmt.Errorf("missing environment variables: %s", strings.Join(keys, ", "))
}
