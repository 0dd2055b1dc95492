package format

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Disable is the built-in pass-through profile. It always exists.
const Disable = "disable"

const defaultRewriteModel = "llama3.2"

type Profile struct {
	Name         string         `json:"-"`
	Enabled      bool           `json:"enabled"`
	Model        string         `json:"model"`
	SystemPrompt string         `json:"system_prompt"`
	Options      map[string]any `json:"options,omitempty"`
}

type profileFile struct {
	Formats map[string]Profile `json:"formats"`
}

// LoadProfiles reads the profile file at path. A missing file yields only the
// built-in profile. Entries without a name are rejected; an entry named
// "disable" cannot override the built-in.
func LoadProfiles(path string) (map[string]Profile, error) {
	profiles := map[string]Profile{Disable: {Name: Disable}}
	if strings.TrimSpace(path) == "" {
		return profiles, nil
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return profiles, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read format profiles: %w", err)
	}

	var file profileFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse format profiles %s: %w", path, err)
	}

	for name, profile := range file.Formats {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("parse format profiles %s: empty profile name", path)
		}
		if name == Disable {
			continue
		}
		profile.Name = name
		if profile.Enabled && strings.TrimSpace(profile.Model) == "" {
			profile.Model = defaultRewriteModel
		}
		profiles[name] = profile
	}
	return profiles, nil
}

// WriteExample writes a starter profile file unless one already exists.
func WriteExample(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}

	file := profileFile{Formats: map[string]Profile{
		"clean": {
			Enabled:      true,
			Model:        defaultRewriteModel,
			SystemPrompt: "Fix punctuation, capitalization and obvious transcription errors. Reply with the corrected text only.",
			Options:      map[string]any{"temperature": 0.1},
		},
		"email": {
			Enabled:      false,
			Model:        defaultRewriteModel,
			SystemPrompt: "Rewrite the dictated text as a short, polite email body. Reply with the email text only.",
			Options:      map[string]any{"temperature": 0.3},
		},
	}}

	raw, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
		return false, fmt.Errorf("write format profiles: %w", err)
	}
	return true, nil
}

func sortedNames(profiles map[string]Profile) []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		if name != Disable {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return append([]string{Disable}, names...)
}
