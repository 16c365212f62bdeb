package broker

import (
	"errors"
	"testing"
	"time"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"broadcast", "broadcast", true},
		{"broadcast", "broadcasts", false},
		{"device/+/status", "device/abc/status", true},
		{"device/+/status", "device/abc/link", false},
		{"device/+/status", "device/abc/status/extra", false},
		{"device/#", "device/abc/status", true},
		{"device/#", "device", true},
		{"#", "anything/at/all", true},
		{"discover-response/+", "discover-response/peer-1", true},
		{"discover-response/+", "discover-response", false},
		{"device/#/status", "device/abc/status", false},
		{"+/+", "a/b", true},
		{"+", "a/b", false},
	}

	for _, tt := range tests {
		t.Run(tt.filter+"~"+tt.topic, func(t *testing.T) {
			if got := Match(tt.filter, tt.topic); got != tt.want {
				t.Errorf("Match(%q, %q) = %v, want %v", tt.filter, tt.topic, got, tt.want)
			}
		})
	}
}

func TestTopicBuilders(t *testing.T) {
	if got := LinkTopic("d1"); got != "device/d1/link" {
		t.Errorf("LinkTopic = %q", got)
	}
	if got := StatusTopic("d1"); got != "device/d1/status" {
		t.Errorf("StatusTopic = %q", got)
	}
	if got := NotificationTopic("d1"); got != "device/d1/notification" {
		t.Errorf("NotificationTopic = %q", got)
	}
	if got := DiscoverResponseTopic("p9"); got != "discover-response/p9" {
		t.Errorf("DiscoverResponseTopic = %q", got)
	}

	id, ok := DeviceFromTopic("device/d1/status")
	if !ok || id != "d1" {
		t.Errorf("DeviceFromTopic = %q, %v", id, ok)
	}
	if _, ok := DeviceFromTopic("device//status"); ok {
		t.Error("empty device id should not parse")
	}
	if _, ok := DeviceFromTopic("broadcast"); ok {
		t.Error("non-device topic should not parse")
	}

	peer, ok := PeerFromResponseTopic("discover-response/p9")
	if !ok || peer != "p9" {
		t.Errorf("PeerFromResponseTopic = %q, %v", peer, ok)
	}
	if _, ok := PeerFromResponseTopic("discover-response/a/b"); ok {
		t.Error("nested peer id should not parse")
	}
}

func TestQoS(t *testing.T) {
	if !ExactlyOnce.Valid() || QoS(3).Valid() {
		t.Error("QoS validity wrong")
	}
	if AtLeastOnce.String() != "AT_LEAST_ONCE" {
		t.Errorf("String() = %q", AtLeastOnce.String())
	}
	if QoS(7).String() != "QOS(7)" {
		t.Errorf("String() = %q", QoS(7).String())
	}
}

func TestCheckPublish(t *testing.T) {
	if err := CheckPublish("", AtMostOnce); !errors.Is(err, ErrEmptyTopic) {
		t.Errorf("empty topic: %v", err)
	}
	if err := CheckPublish("t", QoS(5)); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("bad qos: %v", err)
	}
	if err := CheckPublish("t", ExactlyOnce); err != nil {
		t.Errorf("valid publish: %v", err)
	}
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{}.WithDefaults()
	if o.ConnectTimeout != 60*time.Second {
		t.Errorf("ConnectTimeout = %v", o.ConnectTimeout)
	}
	if o.KeepAlive != 120*time.Second {
		t.Errorf("KeepAlive = %v", o.KeepAlive)
	}

	o = Options{ConnectTimeout: time.Second}.WithDefaults()
	if o.ConnectTimeout != time.Second {
		t.Error("explicit timeout should be kept")
	}

	if err := (Options{}).Validate(); !errors.Is(err, ErrNoURL) {
		t.Errorf("Validate() = %v, want ErrNoURL", err)
	}
}

func TestNotConnectedMessage(t *testing.T) {
	if ErrNotConnected.Error() != "not connected" {
		t.Errorf("ErrNotConnected = %q", ErrNotConnected.Error())
	}
}
