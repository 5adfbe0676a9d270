package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/troubadour-audio/troubadour/mixer"
)

// presetExt is the file extension presets are stored with.
const presetExt = ".toml"

// PresetManager stores named mixer documents as files in a directory.
// Preset names follow the same character rules as entity ids.
type PresetManager struct {
	dir string
}

// NewPresetManager creates the manager, making the directory if
// needed.
func NewPresetManager(dir string) (*PresetManager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &PresetManager{dir: dir}, nil
}

// Dir returns the preset directory path.
func (p *PresetManager) Dir() string { return p.dir }

// List returns the sorted preset name stems.
func (p *PresetManager) List() ([]string, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, presetExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(name, presetExt))
	}
	sort.Strings(names)
	return names, nil
}

// Save writes a preset, overwriting any existing one of that name.
func (p *PresetManager) Save(name string, f File) error {
	if err := validatePresetName(name); err != nil {
		return err
	}
	return Save(p.path(name), f)
}

// Load reads a preset by name.
func (p *PresetManager) Load(name string) (File, error) {
	if err := validatePresetName(name); err != nil {
		return File{}, err
	}
	if _, err := os.Stat(p.path(name)); err != nil {
		return File{}, &mixer.NotFoundError{Kind: "preset", ID: name}
	}
	return Load(p.path(name))
}

// Delete removes a preset by name.
func (p *PresetManager) Delete(name string) error {
	if err := validatePresetName(name); err != nil {
		return err
	}
	if err := os.Remove(p.path(name)); err != nil {
		if os.IsNotExist(err) {
			return &mixer.NotFoundError{Kind: "preset", ID: name}
		}
		return err
	}
	return nil
}

func (p *PresetManager) path(name string) string {
	return filepath.Join(p.dir, name+presetExt)
}

// validatePresetName keeps preset files inside the directory: the id
// character set forbids separators and dots.
func validatePresetName(name string) error {
	if name == "" {
		return &mixer.ValidationError{Field: "preset name", Reason: "cannot be empty"}
	}
	if len(name) > 100 {
		return &mixer.ValidationError{Field: "preset name", Reason: "too long (max 100 characters)"}
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return &mixer.ValidationError{Field: "preset name", Reason: "contains invalid characters"}
		}
	}
	return nil
}
