package kvcache

// Metrics receives registry lifecycle events. Implementations must be safe
// for concurrent use; the registry invokes them outside its own lock.
type Metrics interface {
	// NodeInserted is called once per successful Insert.
	NodeInserted()
	// NodeErased is called when a release drops the last reference.
	NodeErased()
	// ResolveHit is called when a handle lookup succeeds.
	ResolveHit()
	// ResolveMiss is called when a handle lookup fails.
	ResolveMiss()
	// SetNodes reports the registered node count after a change.
	SetNodes(n int)
}

// NoopMetrics is a drop-in Metrics implementation that does nothing. It is
// the default when no observability backend is configured.
type NoopMetrics struct{}

func (NoopMetrics) NodeInserted() {}
func (NoopMetrics) NodeErased()   {}
func (NoopMetrics) ResolveHit()   {}
func (NoopMetrics) ResolveMiss()  {}
func (NoopMetrics) SetNodes(int)  {}

// Ensure NoopMetrics implements the Metrics interface at compile time.
var _ Metrics = NoopMetrics{}
