package discovery

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Service type constants for mDNS.
const (
	ServiceTypeMQTT = "_mqtt._tcp"
	ServiceTypeNATS = "_nats._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	DefaultMQTTPort = 1883
	DefaultNATSPort = 4222
)

// TXT record keys.
const (
	TXTKeyTLS     = "tls"
	TXTKeyVersion = "ver"
)

// BrowseTimeout is the default time spent looking for a broker.
const BrowseTimeout = 5 * time.Second

// MaxInstanceNameLen is the DNS label limit for instance names.
const MaxInstanceNameLen = 63

// Discovery errors.
var (
	ErrNotFound            = errors.New("no broker found")
	ErrNoAddress           = errors.New("broker has no usable address")
	ErrUnknownTransport    = errors.New("unknown transport")
	ErrInstanceNameInvalid = errors.New("invalid instance name")
)

// ServiceTypeFor returns the mDNS service type for a transport name.
func ServiceTypeFor(transport string) (string, error) {
	switch transport {
	case "mqtt":
		return ServiceTypeMQTT, nil
	case "nats":
		return ServiceTypeNATS, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTransport, transport)
	}
}

// Broker is a broker found on the network.
type Broker struct {
	Instance  string
	Service   string
	Host      string
	Port      uint16
	Addresses []string
	TLS       bool
	Version   string
}

// URL returns a connection URL for the broker, preferring the first
// resolved address over the host name.
func (b Broker) URL() (string, error) {
	host := b.Host
	if len(b.Addresses) > 0 {
		host = b.Addresses[0]
	}
	if host == "" || b.Port == 0 {
		return "", ErrNoAddress
	}
	hostPort := net.JoinHostPort(host, strconv.Itoa(int(b.Port)))

	switch b.Service {
	case ServiceTypeNATS:
		if b.TLS {
			return "tls://" + hostPort, nil
		}
		return "nats://" + hostPort, nil
	default:
		if b.TLS {
			return "ssl://" + hostPort, nil
		}
		return "tcp://" + hostPort, nil
	}
}
