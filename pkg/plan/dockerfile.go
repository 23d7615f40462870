package plan

import "strings"

// DockerfileName is where the generated Dockerfile lives inside the build
// context. It sits at the root so the daemon can drop it before COPY . .
const DockerfileName = ".layerctl.Dockerfile"

// Dockerfile renders the plan.
func (p *Plan) Dockerfile() string {
	var b strings.Builder
	b.WriteString("# Generated by layerctl for recipe " + p.Recipe + ". Do not edit.\n")
	for _, s := range p.Steps {
		if s.Role == RoleManifest || s.Role == RoleSource {
			b.WriteString("\n")
		}
		b.WriteString(s.String())
		b.WriteString("\n")
	}
	return b.String()
}
