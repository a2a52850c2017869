package quic

import "github.com/quic-go/quic-go/http3"

// NextProtoH3 is the ALPN token of the final HTTP/3 version (RFC 9114).
const NextProtoH3 = http3.NextProtoH3

// ALPN tokens of the HTTP/3 drafts still spoken by older peers.
const (
	NextProtoH3Draft29 = "h3-29"
	NextProtoH3Draft28 = "h3-28"
	NextProtoH3Draft27 = "h3-27"
)

// ALPNProtocols returns the ALPN list this server advertises, in priority
// order: the final identifier first, then the drafts, newest first.
// The list is fixed; every call returns a new slice.
func ALPNProtocols() []string {
	return []string{
		NextProtoH3,
		NextProtoH3Draft29,
		NextProtoH3Draft28,
		NextProtoH3Draft27,
	}
}
