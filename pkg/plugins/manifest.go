package plugins

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// SupportedManifestVersions lists manifest versions this release's script
// plugin loader understands.
var SupportedManifestVersions = []int{1}

// Manifest describes a script plugin directory's manifest.json: identity
// plus the capabilities it needs from the host (network access scoped to
// specific domains, or subprocess execution scoped to an allowlist).
// Trimmed from the teacher's shisho-authoring manifest schema down to the
// two capabilities a scraping plugin actually needs — no
// inputConverter/fileParser/outputGenerator/metadataEnricher/identifierTypes,
// none of which have a scraping-domain meaning.
type Manifest struct {
	ManifestVersion int          `json:"manifestVersion"`
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	Version         string       `json:"version"`
	Description     string       `json:"description"`
	Capabilities    Capabilities `json:"capabilities"`
}

type Capabilities struct {
	HTTPAccess  *HTTPAccessCap  `json:"httpAccess"`
	ShellAccess *ShellAccessCap `json:"shellAccess"`
}

type HTTPAccessCap struct {
	Description string   `json:"description"`
	Domains     []string `json:"domains"`
}

type ShellAccessCap struct {
	Description string   `json:"description"`
	Commands    []string `json:"commands"`
}

// ParseManifest parses and validates a manifest.json byte slice.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "failed to parse manifest JSON")
	}

	if m.ManifestVersion == 0 {
		return nil, errors.New("manifest: manifestVersion is required")
	}

	supported := false
	for _, v := range SupportedManifestVersions {
		if m.ManifestVersion == v {
			supported = true
			break
		}
	}
	if !supported {
		return nil, errors.Errorf("manifest: unsupported manifestVersion %d (supported: %v)", m.ManifestVersion, SupportedManifestVersions)
	}

	if m.ID == "" {
		return nil, errors.New("manifest: id is required")
	}
	if m.Name == "" {
		return nil, errors.New("manifest: name is required")
	}
	if m.Version == "" {
		return nil, errors.New("manifest: version is required")
	}

	return &m, nil
}
