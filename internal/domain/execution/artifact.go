package execution

// Artifact is a caller-owned dataset, usually CSV text produced by a trade query.
type Artifact struct {
	ID          string
	ContentType string
	Data        []byte
}
