package security

import (
	"errors"
	"fmt"
	"mime"
	"net"
	"net/url"
	"strings"
)

// MaxImageURLLength bounds photo URLs stored on milestones and listings.
const MaxImageURLLength = 2048

var (
	ErrImageURL  = errors.New("image url not allowed")
	ErrImageType = errors.New("not an image")
)

// blockedHosts are cloud metadata endpoints and loopback names.
var blockedHosts = []string{"localhost", "metadata.google.internal", "metadata.google"}

// imageTypes are the photo formats the advisory model accepts.
var imageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/heic": true,
	"image/heif": true,
}

// ImagePolicy decides which farmer-supplied photo URLs the server may
// download for analysis.
type ImagePolicy struct {
	// AllowHTTP admits plain http URLs. Production requires https.
	AllowHTTP bool
	// LookupHost resolves host names. Nil uses net.LookupHost.
	LookupHost func(host string) ([]string, error)
}

// CheckURL refuses URLs with credentials, odd ports, or hosts that are
// (or resolve to) private, loopback, link-local or unspecified addresses.
func (p ImagePolicy) CheckURL(rawURL string) error {
	if len(rawURL) > MaxImageURLLength {
		return fmt.Errorf("%w: longer than %d characters", ErrImageURL, MaxImageURLLength)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: invalid URL format", ErrImageURL)
	}

	switch {
	case u.Scheme == "https":
	case u.Scheme == "http" && p.AllowHTTP:
	default:
		return fmt.Errorf("%w: scheme %q", ErrImageURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrImageURL)
	}
	if u.User != nil {
		return fmt.Errorf("%w: credentials in URL", ErrImageURL)
	}
	if port := u.Port(); port != "" && port != "443" && port != "80" {
		return fmt.Errorf("%w: port %s", ErrImageURL, port)
	}

	host := u.Hostname()
	for _, b := range blockedHosts {
		if strings.EqualFold(host, b) {
			return fmt.Errorf("%w: host %q", ErrImageURL, host)
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		return checkIP(ip)
	}

	lookup := p.LookupHost
	if lookup == nil {
		lookup = net.LookupHost
	}
	addrs, err := lookup(host)
	if err != nil {
		return fmt.Errorf("%w: cannot resolve %s", ErrImageURL, host)
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil {
			if err := checkIP(ip); err != nil {
				return fmt.Errorf("host %q resolves to blocked address: %w", host, err)
			}
		}
	}
	return nil
}

// CheckContentType accepts a Content-Type header or sniffed type naming a
// supported photo format.
func CheckContentType(contentType string) error {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil || !imageTypes[strings.ToLower(mt)] {
		return fmt.Errorf("%w: %s", ErrImageType, contentType)
	}
	return nil
}

func checkIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("%w: loopback address", ErrImageURL)
	case ip.IsPrivate():
		return fmt.Errorf("%w: private address", ErrImageURL)
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return fmt.Errorf("%w: link-local address", ErrImageURL)
	case ip.IsUnspecified():
		return fmt.Errorf("%w: unspecified address", ErrImageURL)
	}
	return nil
}
