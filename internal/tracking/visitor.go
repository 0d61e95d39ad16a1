// internal/tracking/visitor.go
//
// Visitor fingerprinting for analytics enrichment.
//
// Context
// -------
// The event hooks turn each tracked conversion or code usage into one
// analytics row carrying browser, OS, device class, and country.  UA
// parsing runs through github.com/avct/uasurfer; geolocation through an
// optional MaxMind database.  Both are isolated here so the rest of the
// codebase never sees the third-party enums.

package tracking

import (
	"net"
	"strconv"
	"strings"

	surfer "github.com/avct/uasurfer"
	"github.com/oschwald/geoip2-golang"
)

// Visitor carries the derived per-request attributes stored on analytics
// rows.
type Visitor struct {
	Browser     string
	OS          string
	DeviceClass string // "Desktop", "Mobile", "Tablet", or "Other"
	Country     string // ISO code, empty when no GeoIP database is loaded
	IsBot       bool
}

// GeoLookup maps an IP to an ISO country code.  Nil disables geolocation.
type GeoLookup func(ip net.IP) string

// OpenGeo returns a lookup backed by a MaxMind database, or nil when path
// is empty.  The reader is safe for concurrent reads, which is all we do.
func OpenGeo(path string) (GeoLookup, error) {
	if path == "" {
		return nil, nil
	}
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}
	return func(ip net.IP) string {
		if ip == nil {
			return ""
		}
		rec, err := reader.Country(ip)
		if err != nil {
			return ""
		}
		return rec.Country.IsoCode
	}, nil
}

// Fingerprint parses the User-Agent header and, when geo is non-nil,
// resolves the remote address to a country.
func Fingerprint(rawUA, remoteAddr string, geo GeoLookup) Visitor {
	ua := surfer.Parse(rawUA)

	vis := Visitor{
		Browser: ua.Browser.Name.String(),
		OS:      ua.OS.Name.String(),
		IsBot:   ua.IsBot(),
	}

	switch ua.DeviceType {
	case surfer.DeviceComputer:
		vis.DeviceClass = "Desktop"
	case surfer.DeviceTablet:
		vis.DeviceClass = "Tablet"
	case surfer.DevicePhone, surfer.DeviceWearable:
		vis.DeviceClass = "Mobile"
	default:
		vis.DeviceClass = "Other"
	}

	if geo != nil {
		vis.Country = geo(clientIP(remoteAddr))
	}
	return vis
}

// clientIP strips the port from an http.Request RemoteAddr.
func clientIP(remoteAddr string) net.IP {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	} else if i := strings.LastIndexByte(remoteAddr, ':'); i != -1 {
		// RemoteAddr without a port still may carry a stray colon count;
		// only strip when the suffix is numeric.
		if _, err := strconv.Atoi(remoteAddr[i+1:]); err == nil {
			host = remoteAddr[:i]
		}
	}
	return net.ParseIP(host)
}
