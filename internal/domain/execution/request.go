package execution

import "github.com/google/uuid"

// Language identifies the programming language of submitted code.
type Language string

const (
	LanguagePython Language = "python"
)

// Request is a single unit of caller-submitted code plus what it may see.
type Request struct {
	ID       string
	Code     string
	Language Language
	Limits   Limits

	// Context holds caller-supplied variables exposed to the script.
	Context map[string]any
	// ArtifactAccess lists the only artifact IDs the script may read.
	ArtifactAccess []string
	// PreloadHelpers injects the trade helper library and the artifact loader.
	PreloadHelpers bool
}

// Normalize fills the ID and language and removes duplicate artifact IDs
// while keeping their order.
func (r Request) Normalize() Request {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Language == "" {
		r.Language = LanguagePython
	}
	r.Limits = r.Limits.Normalize()

	if len(r.ArtifactAccess) > 0 {
		seen := make(map[string]struct{}, len(r.ArtifactAccess))
		ids := make([]string, 0, len(r.ArtifactAccess))
		for _, id := range r.ArtifactAccess {
			if id == "" {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
		r.ArtifactAccess = ids
	}

	return r
}

// Report pairs a request with its result for downstream publishers.
type Report struct {
	Request Request
	Result  *Result
}
