package discovery

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	prefixDiscovery = "P2P_DISCOVERY:"
	prefixResponse  = "P2P_RESPONSE:"

	maxDatagramSize = 1024
)

// ErrMalformedDatagram indicates a datagram that is not a discovery announcement.
var ErrMalformedDatagram = errors.New("discovery: malformed datagram")

// DatagramKind distinguishes probes from replies.
type DatagramKind int

const (
	KindDiscovery DatagramKind = iota + 1
	KindResponse
)

// Announcement is one parsed discovery datagram.
type Announcement struct {
	Kind DatagramKind
	Name string
	Port int
}

// Encode renders the announcement as `<PREFIX><name>:<port>`.
func (a Announcement) Encode() ([]byte, error) {
	if strings.TrimSpace(a.Name) == "" || strings.ContainsAny(a.Name, "\r\n") {
		return nil, fmt.Errorf("%w: invalid device name %q", ErrMalformedDatagram, a.Name)
	}
	if a.Port <= 0 || a.Port > 65535 {
		return nil, fmt.Errorf("%w: invalid port %d", ErrMalformedDatagram, a.Port)
	}

	prefix := prefixDiscovery
	if a.Kind == KindResponse {
		prefix = prefixResponse
	}
	return []byte(prefix + a.Name + ":" + strconv.Itoa(a.Port)), nil
}

// ParseDatagram decodes a probe or reply. The port is taken after the last
// colon so device names may contain colons.
func ParseDatagram(data []byte) (Announcement, error) {
	text := strings.TrimSpace(string(data))

	var kind DatagramKind
	switch {
	case strings.HasPrefix(text, prefixDiscovery):
		kind = KindDiscovery
		text = strings.TrimPrefix(text, prefixDiscovery)
	case strings.HasPrefix(text, prefixResponse):
		kind = KindResponse
		text = strings.TrimPrefix(text, prefixResponse)
	default:
		return Announcement{}, ErrMalformedDatagram
	}

	idx := strings.LastIndexByte(text, ':')
	if idx <= 0 {
		return Announcement{}, fmt.Errorf("%w: missing name or port", ErrMalformedDatagram)
	}
	port, err := strconv.Atoi(text[idx+1:])
	if err != nil || port <= 0 || port > 65535 {
		return Announcement{}, fmt.Errorf("%w: invalid port %q", ErrMalformedDatagram, text[idx+1:])
	}

	return Announcement{Kind: kind, Name: text[:idx], Port: port}, nil
}
