// Package gqlshape hand-rolls the minimal slice of "GraphQL-shaped"
// surface Vulcan Relay needs — an operation registry keyed by name,
// `json.RawMessage` variables in and a typed result or typed error out,
// and a text SDL dump for the schema-dump subcommands.
package gqlshape

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/vulcan-relay/vulcan-relay/internal/relayerr"
)

// Kind distinguishes the three GraphQL operation shapes. Control only
// uses Query/Mutation; Signal uses all three (subscriptions back the
// producerAvailable/dataProducerAvailable streams).
type Kind string

const (
	Query        Kind = "query"
	Mutation     Kind = "mutation"
	Subscription Kind = "subscription"
)

// Resolver handles one operation's variables and returns a JSON-encodable
// result or a *relayerr.Error. Subscription operations carry no resolver:
// the Signal connection (internal/signal/conn.go) streams them by name,
// and the registry itself doesn't know about streaming.
type Resolver func(variables json.RawMessage) (any, error)

// Operation is one named entry in a Schema.
type Operation struct {
	Name        string
	Kind        Kind
	Description string
	Resolve     Resolver
}

// Schema is an ordered set of operations exposed by one service
// (Control or Signal). Operations are looked up by name at dispatch time;
// the SDL dump groups them by kind and sorts them by name.
type Schema struct {
	serviceName string
	byName      map[string]*Operation
	order       []string
}

func NewSchema(serviceName string) *Schema {
	return &Schema{serviceName: serviceName, byName: make(map[string]*Operation)}
}

// Register adds an operation. Panics on duplicate names, since that is a
// programming error in this repository's own wiring, never a runtime
// condition driven by client input.
func (s *Schema) Register(op Operation) {
	if _, exists := s.byName[op.Name]; exists {
		panic(fmt.Sprintf("gqlshape: duplicate operation %q in schema %q", op.Name, s.serviceName))
	}
	s.byName[op.Name] = &op
	s.order = append(s.order, op.Name)
}

// Request is the envelope both HTTP and WebSocket transports decode:
// `{"operationName": "...", "variables": {...}}`.
type Request struct {
	OperationName string          `json:"operationName"`
	Variables     json.RawMessage `json:"variables"`
}

// Response wraps a successful result the way a GraphQL response body
// does, sans the "data" nesting keyed by field name — Vulcan Relay's
// operations are single-field by construction, so "data" is simply the
// resolver's return value.
type Response struct {
	Data   any        `json:"data,omitempty"`
	Errors []WireError `json:"errors,omitempty"`
}

// WireError is the GraphQL-shaped error representation: every relayerr
// Kind is surfaced to clients as a GraphQL error with that kind in its
// extensions.
type WireError struct {
	Message    string         `json:"message"`
	Extensions WireExtensions `json:"extensions"`
}

type WireExtensions struct {
	Kind relayerr.Kind `json:"kind"`
}

// Dispatch looks up name, runs its resolver, and returns a Response ready
// for JSON encoding.
func (s *Schema) Dispatch(name string, variables json.RawMessage) Response {
	op, ok := s.byName[name]
	if !ok {
		return Response{Errors: []WireError{{
			Message:    fmt.Sprintf("unknown operation %q", name),
			Extensions: WireExtensions{Kind: relayerr.InvalidParameters},
		}}}
	}

	result, err := op.Resolve(variables)
	if err != nil {
		return Response{Errors: []WireError{{
			Message:    err.Error(),
			Extensions: WireExtensions{Kind: relayerr.KindOf(err)},
		}}}
	}
	return Response{Data: result}
}

// Lookup returns the operation itself, used by the Signal transport to
// distinguish Subscription operations (which stream) from Query/Mutation
// ones (which resolve once).
func (s *Schema) Lookup(name string) (*Operation, bool) {
	op, ok := s.byName[name]
	return op, ok
}

// DumpSDL renders a text schema listing every registered operation's
// name and description, grouped by kind (Query, Mutation, Subscription)
// and sorted by name within each kind. This text is the
// authoritative public interface clients are generated from.
func (s *Schema) DumpSDL() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s schema\n\n", s.serviceName)

	byKind := map[Kind][]string{}
	for _, name := range s.order {
		op := s.byName[name]
		byKind[op.Kind] = append(byKind[op.Kind], name)
	}

	for _, kind := range []Kind{Query, Mutation, Subscription} {
		names := byKind[kind]
		if len(names) == 0 {
			continue
		}
		sort.Strings(names)
		fmt.Fprintf(&b, "type %s {\n", strings.Title(string(kind)))
		for _, name := range names {
			op := s.byName[name]
			if op.Description != "" {
				fmt.Fprintf(&b, "  # %s\n", op.Description)
			}
			fmt.Fprintf(&b, "  %s\n", name)
		}
		b.WriteString("}\n\n")
	}

	return b.String()
}
