package discovery

import (
	"fmt"
	"sort"
	"strings"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// BrokerInfo is what a broker publishes in its TXT records.
type BrokerInfo struct {
	TLS     bool
	Version string
}

// EncodeBrokerTXT creates TXT records for a broker advertisement.
func EncodeBrokerTXT(info BrokerInfo) TXTRecordMap {
	txt := make(TXTRecordMap)
	if info.TLS {
		txt[TXTKeyTLS] = "1"
	}
	if info.Version != "" {
		txt[TXTKeyVersion] = info.Version
	}
	return txt
}

// DecodeBrokerTXT parses broker TXT records. Unknown keys are ignored.
func DecodeBrokerTXT(txt TXTRecordMap) BrokerInfo {
	var info BrokerInfo
	switch strings.ToLower(txt[TXTKeyTLS]) {
	case "1", "true", "yes":
		info.TLS = true
	}
	info.Version = txt[TXTKeyVersion]
	return info
}

// TXTRecordsToStrings converts a TXTRecordMap to sorted "key=value" strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(result)
	return result
}

// StringsToTXTRecords parses a slice of "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		k, v, found := strings.Cut(s, "=")
		if k == "" {
			continue
		}
		if !found {
			// Key without value (boolean flag)
			v = ""
		}
		txt[k] = v
	}
	return txt
}

// ValidateInstanceName checks if an instance name is valid for mDNS.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInstanceNameInvalid)
	}
	if len(name) > MaxInstanceNameLen {
		return fmt.Errorf("%w: longer than %d bytes", ErrInstanceNameInvalid, MaxInstanceNameLen)
	}
	return nil
}
