package discovery

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-gateway/internal/netaddr"
)

// DeviceType is the UPnP device type advertised over SSDP.
const DeviceType = "urn:schemas-upnp-org:device:GatewayController:1"

// DescriptionPath is where the HTTP server serves the device description.
const DescriptionPath = "/device/description.xml"

// udnPrefix is fixed; the final group is the hardware address.
const udnPrefix = "uuid:806f52f4-1f35-4e33-9299-"

// UDN derives the unique device name from a hardware address.
func UDN(addr netaddr.Address) string {
	return udnPrefix + strings.ToLower(addr.MACHex())
}

// DeviceDescription is the UPnP device description document.
type DeviceDescription struct {
	XMLName     xml.Name    `xml:"urn:schemas-upnp-org:device-1-0 root"`
	SpecVersion SpecVersion `xml:"specVersion"`
	URLBase     string      `xml:"URLBase"`
	Device      Device      `xml:"device"`
}

// SpecVersion is the UPnP architecture version.
type SpecVersion struct {
	Major int `xml:"major"`
	Minor int `xml:"minor"`
}

// Device is the device element of the description.
type Device struct {
	DeviceType   string `xml:"deviceType"`
	FriendlyName string `xml:"friendlyName"`
	Manufacturer string `xml:"manufacturer"`
	ModelName    string `xml:"modelName"`
	ModelNumber  string `xml:"modelNumber"`
	ModelURL     string `xml:"modelURL,omitempty"`
	UDN          string `xml:"UDN"`
}

// NewDeviceDescription builds the description for this host.
func NewDeviceDescription(identity config.DiscoveryConfig, version string, addr netaddr.Address, port int) DeviceDescription {
	return DeviceDescription{
		SpecVersion: SpecVersion{Major: 1, Minor: 0},
		URLBase:     fmt.Sprintf("http://%s:%d", addr.IP, port),
		Device: Device{
			DeviceType:   DeviceType,
			FriendlyName: identity.FriendlyName,
			Manufacturer: identity.Manufacturer,
			ModelName:    identity.ModelName,
			ModelNumber:  strings.TrimPrefix(version, "v"),
			ModelURL:     identity.ModelURL,
			UDN:          UDN(addr),
		},
	}
}

// Marshal renders the document with an XML header.
func (d DeviceDescription) Marshal() ([]byte, error) {
	body, err := xml.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding device description: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}
