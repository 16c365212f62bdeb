package discovery

import (
	"context"
	"log/slog"
	"net"
	"sort"
	"time"

	"github.com/enbility/zeroconf/v3"

	"github.com/notify-relay/relay-go/pkg/version"
)

// BrowserConfig configures broker browsing.
type BrowserConfig struct {
	// Timeout bounds Find. Default: BrowseTimeout.
	Timeout time.Duration

	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string

	Logger *slog.Logger
}

// DefaultBrowserConfig returns the default browser configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{Timeout: BrowseTimeout}
}

// Entry is raw mDNS service entry data.
type Entry struct {
	Instance string
	Service  string
	Host     string
	Port     uint16
	Text     []string
	Addrs    []string
}

// ToBroker converts an entry to a Broker.
func (e Entry) ToBroker() Broker {
	info := DecodeBrokerTXT(StringsToTXTRecords(e.Text))
	return Broker{
		Instance:  e.Instance,
		Service:   e.Service,
		Host:      e.Host,
		Port:      e.Port,
		Addresses: append([]string(nil), e.Addrs...),
		TLS:       info.TLS,
		Version:   info.Version,
	}
}

func entryFromZeroconf(service string, z *zeroconf.ServiceEntry) Entry {
	addrs := make([]string, 0, len(z.AddrIPv4)+len(z.AddrIPv6))
	for _, ip := range z.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range z.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}
	return Entry{
		Instance: z.Instance,
		Service:  service,
		Host:     z.HostName,
		Port:     uint16(z.Port),
		Text:     z.Text,
		Addrs:    addrs,
	}
}

// Browser finds brokers over mDNS.
type Browser struct {
	config BrowserConfig
}

// NewBrowser creates a broker browser.
func NewBrowser(config BrowserConfig) *Browser {
	if config.Timeout <= 0 {
		config.Timeout = BrowseTimeout
	}
	return &Browser{config: config}
}

func (b *Browser) debugLog(msg string, args ...any) {
	if b.config.Logger != nil {
		b.config.Logger.Debug(msg, args...)
	}
}

func (b *Browser) browserOptions() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption
	if b.config.Interface != "" {
		iface, err := net.InterfaceByName(b.config.Interface)
		if err == nil {
			opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
		}
	}
	return opts
}

// Browse streams brokers of the given service type until ctx is done.
// Services are aggregated by instance name; each broker is emitted once,
// with the addresses known when it was first seen.
func (b *Browser) Browse(ctx context.Context, serviceType string) <-chan Broker {
	raw := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)
	entries := make(chan Entry)

	go func() {
		defer close(entries)
		for {
			select {
			case z, ok := <-raw:
				if !ok {
					return
				}
				select {
				case entries <- entryFromZeroconf(serviceType, z):
				case <-ctx.Done():
					return
				}
			case <-removed:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		if err := zeroconf.Browse(ctx, serviceType, Domain, raw, removed, b.browserOptions()...); err != nil {
			b.debugLog("mdns browse failed", "service", serviceType, "error", err)
		}
	}()

	return aggregate(ctx, entries)
}

// aggregate emits each instance once, dropping entries without a port.
func aggregate(ctx context.Context, in <-chan Entry) <-chan Broker {
	out := make(chan Broker)
	go func() {
		defer close(out)
		seen := make(map[string]struct{})
		for {
			select {
			case e, ok := <-in:
				if !ok {
					return
				}
				if e.Port == 0 {
					continue
				}
				if _, dup := seen[e.Instance]; dup {
					continue
				}
				seen[e.Instance] = struct{}{}
				select {
				case out <- e.ToBroker():
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Find returns the first reachable broker of the given transport
// ("mqtt" or "nats") seen within the configured timeout.
func (b *Browser) Find(ctx context.Context, transport string) (Broker, error) {
	serviceType, err := ServiceTypeFor(transport)
	if err != nil {
		return Broker{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()
	return first(ctx, b.Browse(ctx, serviceType))
}

func first(ctx context.Context, in <-chan Broker) (Broker, error) {
	for {
		select {
		case br, ok := <-in:
			if !ok {
				return Broker{}, ErrNotFound
			}
			if _, err := br.URL(); err != nil {
				continue
			}
			if !version.Supports(br.Version) {
				continue
			}
			return br, nil
		case <-ctx.Done():
			return Broker{}, ErrNotFound
		}
	}
}

// Collect gathers all brokers seen until ctx is done, sorted by instance.
func Collect(ctx context.Context, in <-chan Broker) []Broker {
	var out []Broker
	for {
		select {
		case br, ok := <-in:
			if !ok {
				return sorted(out)
			}
			out = append(out, br)
		case <-ctx.Done():
			return sorted(out)
		}
	}
}

func sorted(brokers []Broker) []Broker {
	sort.Slice(brokers, func(i, j int) bool { return brokers[i].Instance < brokers[j].Instance })
	return brokers
}
