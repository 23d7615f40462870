package recipe

import (
	"encoding/json"

	"github.com/opencontainers/go-digest"
)

// installInputs holds every recipe field that affects the layers up to and
// including dependency installation. Source and tagging fields are excluded.
type installInputs struct {
	Base           string            `json:"base"`
	Platform       string            `json:"platform"`
	Manager        Manager           `json:"manager"`
	WorkDir        string            `json:"workdir"`
	Manifest       string            `json:"manifest"`
	Lockfile       string            `json:"lockfile"`
	SystemPackages []string          `json:"system_packages"`
	Env            map[string]string `json:"env"`
	BuildArgs      map[string]string `json:"build_args"`
}

// Digest returns a canonical digest of the install-relevant recipe fields.
func (r *Recipe) Digest() digest.Digest {
	in := installInputs{
		Base:           r.Base,
		Platform:       r.Platform,
		Manager:        r.Manager,
		WorkDir:        r.WorkDir,
		Manifest:       r.Manifest,
		Lockfile:       r.Lockfile,
		SystemPackages: r.SystemPackages,
		Env:            r.Env,
		BuildArgs:      r.BuildArgs,
	}
	// encoding/json sorts map keys, so the encoding is stable.
	data, _ := json.Marshal(in)
	return digest.FromBytes(data)
}
