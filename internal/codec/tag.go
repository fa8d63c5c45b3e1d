package codec

import (
	"errors"
	"strconv"
	"strings"
)

// Protocol tags carried in a proxy host label.
const (
	TagHTTPS   = "hs"
	TagHTTP    = "h"
	TagNeutral = "m"

	tagHTTPPort  = 'p'
	tagHTTPSPort = 's'
)

// ErrUnknownTag is returned by DecodeTag for a malformed tag.
var ErrUnknownTag = errors.New("unknown protocol tag")

// EncodeTag returns the tag for scheme and port. A zero port means the
// scheme default. Schemes other than http and https get TagNeutral.
func EncodeTag(scheme string, port int) string {
	switch strings.ToLower(scheme) {
	case "https":
		if port == 0 || port == 443 {
			return TagHTTPS
		}
		return string(tagHTTPSPort) + strconv.Itoa(port)
	case "http":
		if port == 0 || port == 80 {
			return TagHTTP
		}
		return string(tagHTTPPort) + strconv.Itoa(port)
	default:
		return TagNeutral
	}
}

// DecodeTag is the inverse of EncodeTag. TagNeutral resolves to inbound, the
// scheme the proxied URL was reached with. The returned port is zero when the
// scheme default applies.
func DecodeTag(tag, inbound string) (scheme string, port int, err error) {
	switch tag {
	case TagHTTPS:
		return "https", 0, nil
	case TagHTTP:
		return "http", 0, nil
	case TagNeutral:
		return strings.ToLower(inbound), 0, nil
	case "":
		return "", 0, ErrUnknownTag
	}

	switch tag[0] {
	case tagHTTPPort:
		scheme = "http"
	case tagHTTPSPort:
		scheme = "https"
	default:
		return "", 0, ErrUnknownTag
	}

	digits := tag[1:]
	if digits == "" || len(digits) > 5 || strings.TrimLeft(digits, "0123456789") != "" {
		return "", 0, ErrUnknownTag
	}
	port, err = strconv.Atoi(digits)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, ErrUnknownTag
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}
	return scheme, port, nil
}
