package agent

import (
	"github.com/hupe1980/agentbridge/core"
)

// DefaultTemplateSet returns the exhaustive mapping of the four built-in
// kinds to their templates. The registry rejects kinds outside this set.
func DefaultTemplateSet() core.TemplateSet {
	return core.TemplateSet{
		core.KindBasic:     NewBasicTemplate(),
		core.KindMirror:    NewMirrorTemplate(),
		core.KindSovereign: NewSovereignTemplate(),
		core.KindEphemeral: NewEphemeralTemplate(),
	}
}
