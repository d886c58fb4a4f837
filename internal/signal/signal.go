// Package signal implements the per-client GraphQL-over-WebSocket
// endpoint, using the graphql-ws / subscriptions-transport-ws envelope
// over github.com/gorilla/websocket. Connection lifecycle
// (readPump/writePump, a buffered send channel, ping/pong deadlines)
// follows a standard hub/client pattern, adapted here from a fan-out hub
// to a single bound Session per connection.
package signal

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/vulcan-relay/vulcan-relay/internal/gqlshape"
	"github.com/vulcan-relay/vulcan-relay/internal/sharedstate"
)

// Service is the Signal plane's HTTP entry point: one upgrade per
// incoming request, handed off to a fresh *conn.
type Service struct {
	state *sharedstate.SharedState
	log   *zap.Logger
}

func New(state *sharedstate.SharedState, log *zap.Logger) *Service {
	return &Service{state: state, log: log}
}

// Schema returns a representative operation registry for the
// schema-dump subcommand; see DumpSchema's doc comment.
func (s *Service) Schema() *gqlshape.Schema { return DumpSchema() }

func (s *Service) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		Serve(s.state, s.log, w, r)
	}
}
