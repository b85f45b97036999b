package loop

// Keepalive holds the process alive while a cycle runs. On mobile ports
// this maps to an OS background task; the daemon uses NopKeepalive.
type Keepalive interface {
	// Acquire requests execution protection for the named activity and
	// returns a release func. The release func must be safe to call once.
	Acquire(name string) (release func())
}

// NopKeepalive is a Keepalive for environments with no suspension.
type NopKeepalive struct{}

func (NopKeepalive) Acquire(string) func() { return func() {} }
