package batch

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Manifest carries per-file conversion settings for a batch run.
//
//	defaults:
//	  assistant_speaker: "00"
//	  system_context: You are the host of a weekly podcast.
//	files:
//	  - path: episodes/ep12.txt
//	    assistant_speaker: "01"
//	  - path: episodes/broken.txt
//	    skip: true
type Manifest struct {
	Defaults FileOptions     `yaml:"defaults"`
	Files    []ManifestEntry `yaml:"files"`
}

// FileOptions are the conversion parameters for one transcript.
type FileOptions struct {
	AssistantSpeaker string `yaml:"assistant_speaker"`
	SystemContext    string `yaml:"system_context"`
}

// ManifestEntry overrides the defaults for one file, addressed relative to
// the input directory.
type ManifestEntry struct {
	FileOptions `yaml:",inline"`

	Path string `yaml:"path"`
	Skip bool   `yaml:"skip"`
}

// LoadManifest reads a YAML manifest from path.
func LoadManifest(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: open %q: %w", path, err)
	}
	defer f.Close()

	m, err := DecodeManifest(f)
	if err != nil {
		return nil, fmt.Errorf("manifest: parse %q: %w", path, err)
	}
	return m, nil
}

// DecodeManifest decodes a manifest, rejecting unknown fields.
func DecodeManifest(r io.Reader) (*Manifest, error) {
	m := &Manifest{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(m); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	for i, e := range m.Files {
		if e.Path == "" {
			return nil, fmt.Errorf("files[%d]: path is required", i)
		}
	}
	return m, nil
}

// Resolve returns the options for rel, layering the manifest entry over the
// manifest defaults over base. A nil manifest returns base unchanged.
func (m *Manifest) Resolve(rel string, base FileOptions) (FileOptions, bool) {
	if m == nil {
		return base, false
	}
	opts := overlay(base, m.Defaults)
	rel = filepath.ToSlash(filepath.Clean(rel))
	for _, e := range m.Files {
		if filepath.ToSlash(filepath.Clean(e.Path)) != rel {
			continue
		}
		return overlay(opts, e.FileOptions), e.Skip
	}
	return opts, false
}

func overlay(base, top FileOptions) FileOptions {
	if top.AssistantSpeaker != "" {
		base.AssistantSpeaker = top.AssistantSpeaker
	}
	if top.SystemContext != "" {
		base.SystemContext = top.SystemContext
	}
	return base
}
