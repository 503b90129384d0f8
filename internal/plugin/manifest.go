package plugin

import (
	"fmt"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
)

// Manifest describes a single plugin, parsed from the plugin.cue file in
// its directory.
type Manifest struct {
	ID               string
	Name             string
	Version          string
	ExecutablePath   string
	WorkingDirectory string
	Capabilities     map[Capability]bool
}

// HasCapability reports whether the manifest declares cap.
func (m *Manifest) HasCapability(cap Capability) bool {
	return m.Capabilities[cap]
}

// manifestParser parses plugin.cue files, reading the #Plugin definition
// every manifest must declare.
type manifestParser struct {
	ctx *cue.Context
}

func newManifestParser() *manifestParser {
	return &manifestParser{ctx: cuecontext.New()}
}

// parse loads pluginDir/plugin.cue, decodes the id, name, version,
// executable and capabilities fields of its #Plugin definition, and returns
// the Manifest. A missing or wrongly typed field is an error; other fields
// are ignored. ExecutablePath is resolved relative to pluginDir if not
// already absolute.
func (p *manifestParser) parse(pluginDir string) (*Manifest, error) {
	cueFile := filepath.Join(pluginDir, "plugin.cue")

	instances := load.Instances([]string{cueFile}, nil)
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances found in %s", cueFile)
	}

	instance := instances[0]
	if instance.Err != nil {
		return nil, fmt.Errorf("error loading %s: %w", cueFile, instance.Err)
	}

	value := p.ctx.BuildInstance(instance)
	if value.Err() != nil {
		return nil, fmt.Errorf("error building CUE instance for %s: %w", cueFile, value.Err())
	}

	pluginDef := value.LookupPath(cue.ParsePath("#Plugin"))
	if !pluginDef.Exists() {
		return nil, fmt.Errorf("#Plugin definition not found in %s", cueFile)
	}

	manifest := &Manifest{Capabilities: make(map[Capability]bool)}

	if err := decodeField(pluginDef, "id", &manifest.ID); err != nil {
		return nil, err
	}
	if err := decodeField(pluginDef, "name", &manifest.Name); err != nil {
		return nil, err
	}
	if err := decodeField(pluginDef, "version", &manifest.Version); err != nil {
		return nil, err
	}

	var executable string
	if err := decodeField(pluginDef, "executable", &executable); err != nil {
		return nil, err
	}
	if !filepath.IsAbs(executable) {
		executable = filepath.Join(pluginDir, executable)
	}
	manifest.ExecutablePath = executable
	manifest.WorkingDirectory = pluginDir

	var capabilities []string
	if err := decodeField(pluginDef, "capabilities", &capabilities); err != nil {
		return nil, err
	}
	for _, c := range capabilities {
		manifest.Capabilities[Capability(c)] = true
	}

	if manifest.ID == "" {
		return nil, fmt.Errorf("%s: #Plugin.id must not be empty", cueFile)
	}

	return manifest, nil
}

func decodeField(pluginDef cue.Value, field string, out interface{}) error {
	fieldValue := pluginDef.LookupPath(cue.ParsePath(field))
	if !fieldValue.Exists() {
		return fmt.Errorf("#Plugin.%s not found", field)
	}
	if err := fieldValue.Decode(out); err != nil {
		return fmt.Errorf("#Plugin.%s: %w", field, err)
	}
	return nil
}
