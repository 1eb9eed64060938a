package netclient

import "github.com/b00ga/corefabric/internal/hostcmd"

// New constructs a Client for the given backend. The backend is the only
// runtime switch this core has (spec §9); it is resolved once, at process
// start, and passed through explicit configuration rather than read from
// ambient state.
func New(backend Backend, runner *hostcmd.Runner) Client {
	switch backend {
	case OpenVSwitch:
		return newOVSClient(runner)
	default:
		return newLinuxClient(runner)
	}
}
