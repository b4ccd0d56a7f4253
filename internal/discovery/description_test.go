package discovery

import (
	"encoding/xml"
	"strings"
	"testing"

	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
)

func TestDeviceDescription(t *testing.T) {
	identity := config.DiscoveryConfig{
		FriendlyName: "Pool House",
		Manufacturer: "Gray Logic",
		ModelName:    "gateway",
	}
	desc := NewDeviceDescription(identity, "v1.4.0", testAddress(t), 4200)

	data, err := desc.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.HasPrefix(string(data), "<?xml") {
		t.Error("missing XML header")
	}

	var parsed DeviceDescription
	if err := xml.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if parsed.SpecVersion.Major != 1 || parsed.SpecVersion.Minor != 0 {
		t.Errorf("specVersion = %+v", parsed.SpecVersion)
	}
	if parsed.Device.UDN != "uuid:806f52f4-1f35-4e33-9299-aabbccddeeff" {
		t.Errorf("UDN = %q", parsed.Device.UDN)
	}
	if parsed.Device.ModelNumber != "1.4.0" {
		t.Errorf("modelNumber = %q, want 1.4.0", parsed.Device.ModelNumber)
	}
	if parsed.Device.DeviceType != DeviceType || parsed.Device.Manufacturer != "Gray Logic" {
		t.Errorf("device = %+v", parsed.Device)
	}
	if parsed.URLBase != "http://192.168.1.20:4200" {
		t.Errorf("URLBase = %q", parsed.URLBase)
	}
}
