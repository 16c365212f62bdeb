package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceTypeFor(t *testing.T) {
	st, err := ServiceTypeFor("mqtt")
	require.NoError(t, err)
	assert.Equal(t, ServiceTypeMQTT, st)

	st, err = ServiceTypeFor("nats")
	require.NoError(t, err)
	assert.Equal(t, ServiceTypeNATS, st)

	_, err = ServiceTypeFor("amqp")
	assert.ErrorIs(t, err, ErrUnknownTransport)
}

func TestBrokerURL(t *testing.T) {
	tests := []struct {
		name   string
		broker Broker
		want   string
	}{
		{"MQTTAddress", Broker{Service: ServiceTypeMQTT, Host: "pi.local.", Port: 1883, Addresses: []string{"192.168.1.5"}}, "tcp://192.168.1.5:1883"},
		{"MQTTHostOnly", Broker{Service: ServiceTypeMQTT, Host: "pi.local.", Port: 1883}, "tcp://pi.local.:1883"},
		{"MQTTTLS", Broker{Service: ServiceTypeMQTT, Port: 8883, Addresses: []string{"10.0.0.1"}, TLS: true}, "ssl://10.0.0.1:8883"},
		{"NATS", Broker{Service: ServiceTypeNATS, Port: 4222, Addresses: []string{"10.0.0.2"}}, "nats://10.0.0.2:4222"},
		{"IPv6", Broker{Service: ServiceTypeNATS, Port: 4222, Addresses: []string{"fe80::1"}}, "nats://[fe80::1]:4222"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.broker.URL()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Broker{Service: ServiceTypeMQTT, Host: "x"}.URL()
	assert.ErrorIs(t, err, ErrNoAddress)
}

func TestTXTRecords(t *testing.T) {
	strs := TXTRecordsToStrings(EncodeBrokerTXT(BrokerInfo{TLS: true, Version: "3.1.1"}))
	assert.Equal(t, []string{"tls=1", "ver=3.1.1"}, strs)

	info := DecodeBrokerTXT(StringsToTXTRecords([]string{"tls=true", "ver=5", "flag", "=skip"}))
	assert.True(t, info.TLS)
	assert.Equal(t, "5", info.Version)

	txt := StringsToTXTRecords([]string{"flag", "a=b=c"})
	assert.Equal(t, TXTRecordMap{"flag": "", "a": "b=c"}, txt)

	assert.Empty(t, TXTRecordsToStrings(EncodeBrokerTXT(BrokerInfo{})))
}

func TestValidateInstanceName(t *testing.T) {
	assert.NoError(t, ValidateInstanceName("relay-broker"))
	assert.ErrorIs(t, ValidateInstanceName(""), ErrInstanceNameInvalid)
	assert.ErrorIs(t, ValidateInstanceName(string(make([]byte, 64))), ErrInstanceNameInvalid)
}

func TestAggregate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan Entry)
	out := aggregate(ctx, in)

	go func() {
		defer close(in)
		in <- Entry{Instance: "b", Service: ServiceTypeMQTT, Port: 1883, Addrs: []string{"10.0.0.2"}}
		in <- Entry{Instance: "a", Service: ServiceTypeMQTT, Port: 1883, Addrs: []string{"10.0.0.1"}, Text: []string{"tls=1"}}
		in <- Entry{Instance: "b", Service: ServiceTypeMQTT, Port: 1883, Addrs: []string{"fe80::2"}}
		in <- Entry{Instance: "noport", Service: ServiceTypeMQTT}
	}()

	got := Collect(ctx, out)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Instance)
	assert.True(t, got[0].TLS)
	assert.Equal(t, "b", got[1].Instance)
	assert.Equal(t, []string{"10.0.0.2"}, got[1].Addresses, "first sighting wins")
}

func TestFirstSkipsUnusableBrokers(t *testing.T) {
	in := make(chan Broker, 3)
	in <- Broker{Instance: "bad", Service: ServiceTypeMQTT}
	in <- Broker{Instance: "future", Service: ServiceTypeMQTT, Port: 1883, Host: "old.local.", Version: "9.0"}
	in <- Broker{Instance: "good", Service: ServiceTypeMQTT, Port: 1883, Host: "pi.local."}
	close(in)

	br, err := first(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "good", br.Instance)

	empty := make(chan Broker)
	close(empty)
	_, err = first(context.Background(), empty)
	assert.ErrorIs(t, err, ErrNotFound)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = first(ctx, make(chan Broker))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindRejectsUnknownTransport(t *testing.T) {
	_, err := NewBrowser(DefaultBrowserConfig()).Find(context.Background(), "amqp")
	assert.ErrorIs(t, err, ErrUnknownTransport)
}

func TestAdvertiserRejectsBadName(t *testing.T) {
	a := NewAdvertiser(AdvertiserConfig{})
	defer a.Stop()
	assert.ErrorIs(t, a.Advertise("", ServiceTypeNATS, 4222, BrokerInfo{}), ErrInstanceNameInvalid)
}
