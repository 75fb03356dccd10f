package cli

import (
	"github.com/sirupsen/logrus"

	"github.com/duniter-go/node/internal/busrouter"
)

// noopNetworkAdapter stands in for the engine's NetworkAdapter when the
// network module is disabled via `disable network`: chunk/consensus
// requests have nowhere to go, so they are dropped with a warning rather
// than left to dereference a nil adapter.
type noopNetworkAdapter struct {
	log *logrus.Logger
}

func (n noopNetworkAdapter) SendRequest(msg busrouter.Message) {
	n.log.Warn("engine: network module disabled, dropping outbound request")
}
