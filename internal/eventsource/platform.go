package eventsource

// NewPlatform returns the host's kernel event source. The EndpointSecurity
// client is linked in by the macOS system-extension build; every other build
// reports the facility as unavailable and the daemon runs in a degraded
// mode (startup reconciliation and the control surfaces still work).
func NewPlatform() (Source, error) {
	return nil, ErrUnavailable
}
