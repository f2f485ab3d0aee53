// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"bytes"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Catalogue schema served by GET /__describe__ with an Arrow Accept header.
var describeSchema = arrow.NewSchema([]arrow.Field{
	{Name: "name", Type: arrow.BinaryTypes.String},
	{Name: "kind", Type: arrow.BinaryTypes.String},
	{Name: "routes", Type: arrow.ListOf(arrow.BinaryTypes.String)},
	{Name: "live_channels", Type: arrow.PrimitiveTypes.Int64},
}, nil)

// DescribeProtocol is the protocol name carried in catalogue metadata.
const DescribeProtocol = "native-bridge"

// APIDescription is one JSON catalogue entry.
type APIDescription struct {
	Name         string   `json:"name"`
	Kind         Kind     `json:"kind"`
	Routes       []string `json:"routes"`
	LiveChannels int      `json:"live_channels"`
}

// Catalogue is the JSON body of GET /__describe__.
type Catalogue struct {
	Protocol  string           `json:"protocol"`
	Version   string           `json:"version"`
	ServerID  string           `json:"server_id,omitempty"`
	SocketURL string           `json:"socket_url,omitempty"`
	APIs      []APIDescription `json:"apis"`
}

// Routes returns the request paths that reach an API of the given kind.
func Routes(name string, kind Kind) []string {
	switch kind {
	case KindPullStream:
		return []string{
			"/" + name + "/" + string(PullOpen),
			"/" + name + "/" + string(PullNext),
			"/" + name + "/" + string(PullClose),
		}
	case KindPushStream:
		return []string{
			"/pushStream/open/" + name,
			"/pushStream/connect/" + name + "/{channel}",
			"/pushStream/close/" + name,
		}
	default:
		return []string{"/" + name}
	}
}

// Describe builds the JSON catalogue.
func (s *Server) Describe() Catalogue {
	apis := s.APIs()
	cat := Catalogue{
		Protocol:  DescribeProtocol,
		Version:   ProtocolVersion,
		ServerID:  s.serverID,
		SocketURL: s.SocketURL(),
		APIs:      make([]APIDescription, 0, len(apis)),
	}
	for _, info := range apis {
		d := APIDescription{
			Name:   info.Name,
			Kind:   info.Kind,
			Routes: Routes(info.Name, info.Kind),
		}
		if info.Kind == KindPushStream {
			d.LiveChannels = len(s.channels.byAPI(info.Name))
		}
		cat.APIs = append(cat.APIs, d)
	}
	return cat
}

// buildDescribeBatch converts the catalogue into one record batch with
// protocol metadata on the schema.
func (s *Server) buildDescribeBatch() (arrow.RecordBatch, *arrow.Schema) {
	mem := memory.NewGoAllocator()
	cat := s.Describe()

	nameBuilder := array.NewStringBuilder(mem)
	defer nameBuilder.Release()
	kindBuilder := array.NewStringBuilder(mem)
	defer kindBuilder.Release()
	routesBuilder := array.NewListBuilder(mem, arrow.BinaryTypes.String)
	defer routesBuilder.Release()
	routeValues := routesBuilder.ValueBuilder().(*array.StringBuilder)
	channelsBuilder := array.NewInt64Builder(mem)
	defer channelsBuilder.Release()

	for _, d := range cat.APIs {
		nameBuilder.Append(d.Name)
		kindBuilder.Append(d.Kind.String())
		routesBuilder.Append(true)
		for _, route := range d.Routes {
			routeValues.Append(route)
		}
		channelsBuilder.Append(int64(d.LiveChannels))
	}

	cols := []arrow.Array{
		nameBuilder.NewArray(),
		kindBuilder.NewArray(),
		routesBuilder.NewArray(),
		channelsBuilder.NewArray(),
	}
	for _, c := range cols {
		defer c.Release()
	}

	keys := []string{MetaProtocolName, MetaRequestVersion}
	vals := []string{DescribeProtocol, ProtocolVersion}
	if s.serverID != "" {
		keys = append(keys, MetaServerID)
		vals = append(vals, s.serverID)
	}
	meta := arrow.NewMetadata(keys, vals)
	schema := arrow.NewSchema(describeSchema.Fields(), &meta)

	return array.NewRecordBatch(schema, cols, int64(len(cat.APIs))), schema
}

// DescribeArrow serializes the catalogue as an Arrow IPC stream.
func (s *Server) DescribeArrow() ([]byte, error) {
	batch, schema := s.buildDescribeBatch()
	defer batch.Release()

	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(schema))
	if err := w.Write(batch); err != nil {
		return nil, fmt.Errorf("writing describe batch: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing describe stream: %w", err)
	}
	return buf.Bytes(), nil
}
