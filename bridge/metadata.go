package bridge

// Well-known paths, headers and messages of the bridge HTTP and socket
// protocols.
const (
	RetrievePath = "/retrieve-resource"
	DescribePath = "/__describe__"

	HeaderRequestID    = "X-Request-Id"
	HeaderNativeStream = "X-Native-Stream"

	ArrowContentType = "application/vnd.apache.arrow.stream"
	JSONContentType  = "application/json; charset=utf-8"

	// ReadyMessage is sent as a text frame once a socket handshake pairs
	// with a live channel.
	ReadyMessage = "READY"

	// Arrow schema metadata keys on the describe catalogue.
	MetaServerID       = "native_bridge.server_id"
	MetaProtocolName   = "native_bridge.protocol"
	MetaRequestVersion = "native_bridge.request_version"

	ProtocolVersion = "1"
)
