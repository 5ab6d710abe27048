package profile

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

var (
	// ErrUnknownProfile is returned by Resolve when no profile has the requested name
	ErrUnknownProfile = errors.New("profile: unknown profile")
	// ErrMalformedConfig is returned when the profile document cannot be parsed or
	// contains an invalid profile
	ErrMalformedConfig = errors.New("profile: malformed config")
	// ErrEmptyConfig is returned when the profile document declares no profiles
	ErrEmptyConfig = errors.New("profile: empty config")
)

//go:embed default_profiles.yaml
var defaultProfiles []byte

// Registry is the immutable set of profiles loaded at startup
type Registry struct {
	names    []string
	profiles map[string]Profile
}

// LoadDefault loads the profiles bundled with the binary
func LoadDefault() (*Registry, error) {
	return Load(bytes.NewReader(defaultProfiles))
}

// LoadFile loads profiles from a YAML document on disk
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrMalformedConfig, path, err)
	}
	defer f.Close()

	reg, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return reg, nil
}

// Load parses a YAML mapping of profile name to profile fields. Unknown
// fields, duplicate names and invalid values are reported as
// ErrMalformedConfig; a document without profiles as ErrEmptyConfig.
func Load(r io.Reader) (*Registry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read: %v", ErrMalformedConfig, err)
	}

	// Strict decode catches unknown fields and type errors
	parsed := map[string]Profile{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&parsed); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyConfig
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedConfig, err)
	}

	// Second pass over the node tree recovers declaration order
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedConfig, err)
	}
	names, err := declaredNames(&doc)
	if err != nil {
		return nil, err
	}

	if len(names) == 0 {
		return nil, ErrEmptyConfig
	}

	reg := &Registry{
		names:    names,
		profiles: make(map[string]Profile, len(names)),
	}

	for _, name := range names {
		p := parsed[name]
		p.Name = name
		p.applyDefaults()
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("%w: profile %q: %v", ErrMalformedConfig, name, err)
		}
		reg.profiles[name] = p
	}

	return reg, nil
}

// declaredNames returns the top-level mapping keys in document order
func declaredNames(doc *yaml.Node) ([]string, error) {
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, nil
	}

	root := doc
	if root.Kind == yaml.DocumentNode {
		root = root.Content[0]
	}

	if root.Kind == yaml.ScalarNode && root.Tag == "!!null" {
		return nil, nil
	}

	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: top level must be a mapping of profile names, line %d", ErrMalformedConfig, root.Line)
	}

	names := make([]string, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i]
		if key.Value == "" {
			return nil, fmt.Errorf("%w: empty profile name at line %d", ErrMalformedConfig, key.Line)
		}
		if root.Content[i+1].Kind != yaml.MappingNode {
			return nil, fmt.Errorf("%w: profile %q must be a mapping, line %d", ErrMalformedConfig, key.Value, key.Line)
		}
		names = append(names, key.Value)
	}

	return names, nil
}

// Resolve returns the profile registered under name
func (r *Registry) Resolve(name string) (Profile, error) {
	p, ok := r.profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownProfile, name)
	}
	return p, nil
}

// Names returns the profile names in declaration order
func (r *Registry) Names() []string {
	names := make([]string, len(r.names))
	copy(names, r.names)
	return names
}

// Len returns the number of profiles
func (r *Registry) Len() int {
	return len(r.names)
}
