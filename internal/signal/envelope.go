package signal

import "encoding/json"

// messageType enumerates the graphql-ws / subscriptions-transport-ws
// envelope types this connection exchanges.
type messageType string

const (
	typeConnectionInit  messageType = "connection_init"
	typeConnectionAck   messageType = "connection_ack"
	typeConnectionError messageType = "connection_error"
	typeSubscribe       messageType = "subscribe"
	typeNext            messageType = "next"
	typeError           messageType = "error"
	typeComplete        messageType = "complete"
)

// envelope is the wire frame both directions use. Id correlates
// subscribe/next/error/complete pairs; Payload's shape depends on Type.
type envelope struct {
	Id      string          `json:"id,omitempty"`
	Type    messageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// connectionInitPayload carries the single-use connection token:
// `{"token": "<opaque>"}`.
type connectionInitPayload struct {
	Token string `json:"token"`
}

type connectionErrorPayload struct {
	Message string `json:"message"`
}

// subscribePayload carries the operation to run, matching the
// `{"operationName": "...", "variables": {...}}` envelope gqlshape uses
// on the Control plane too.
type subscribePayload struct {
	OperationName string          `json:"operationName"`
	Variables     json.RawMessage `json:"variables"`
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
