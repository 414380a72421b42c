// Package pos is the HTTP client of the POS webservice and the
// connector.Adapter built on top of it.
package pos

import "strings"

// apiSuffix is the path of the webservice below the shop location
const apiSuffix = "/api"

// NormalizeLocation turns a shop location into the webservice base URL:
// trailing slashes are dropped, "/api" is appended once and "http://" is
// prefixed when the scheme is missing.
func NormalizeLocation(location string) string {
	location = strings.TrimRight(strings.TrimSpace(location), "/")
	if location == "" {
		return ""
	}
	if !strings.HasSuffix(location, apiSuffix) {
		location += apiSuffix
	}
	if !strings.HasPrefix(location, "http://") && !strings.HasPrefix(location, "https://") {
		location = "http://" + location
	}
	return location
}
