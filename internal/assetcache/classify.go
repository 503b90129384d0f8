package assetcache

import (
	"net/url"
	"regexp"
	"strings"
)

// ephemeralQueryParams are query keys that mark a URL as a short-lived
// signed link (CDN or object-storage pre-signed URL conventions).
var ephemeralQueryParams = []string{"Expires", "Signature", "X-Amz-Signature", "token", "sig"}

// signedPathSegment matches a path segment that looks like a timestamp
// paired with a signature, e.g. "1699999999-3f9a8c1e2b4d5f60" or a bare
// 10-13 digit unix timestamp segment — the shape CDNs use when the
// signature rides in the path instead of the query string.
var signedPathSegment = regexp.MustCompile(`^\d{10,13}([_-][0-9a-fA-F]{8,})?$`)

// IsEphemeral classifies rawURL as a short-lived signed link. The classifier
// is pure: it looks only at the URL string, never at the network. cdnHosts
// is a configured list of host suffixes (e.g. "cloudfront.net") known to
// serve time-limited links.
func IsEphemeral(rawURL string, cdnHosts []string) bool {
	if rawURL == "" {
		return false
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	query := parsed.Query()
	for _, param := range ephemeralQueryParams {
		if query.Get(param) != "" {
			return true
		}
	}

	host := strings.ToLower(parsed.Hostname())
	for _, suffix := range cdnHosts {
		if host != "" && strings.HasSuffix(host, strings.ToLower(suffix)) {
			return true
		}
	}

	for _, segment := range strings.Split(parsed.Path, "/") {
		if segment == "" {
			continue
		}
		if signedPathSegment.MatchString(segment) {
			return true
		}
	}

	return false
}

// DefaultCDNHosts is the built-in CDN suffix list used when no config
// overrides it. Operators extend it per scraper-host discovered in the wild.
func DefaultCDNHosts() []string {
	return []string{
		"cloudfront.net",
		"akamaized.net",
		"fastly.net",
		"cdn77.org",
		"imgix.net",
		"s3.amazonaws.com",
	}
}
