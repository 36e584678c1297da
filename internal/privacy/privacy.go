// Package privacy scrubs credentials, hosts and local file paths from text
// before it leaves the device in telemetry reports.
package privacy

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	urlPattern = regexp.MustCompile(`\b(?:https?|wss?)://\S+`)

	// Authorization headers and key/token query or form values.
	secretPattern = regexp.MustCompile(`(?i)\b(bearer|api[_-]?key|token|access_token)([=: ]+)[A-Za-z0-9_.~+/-]{6,}`)

	// Image and video files under any absolute directory.
	mediaPathPattern = regexp.MustCompile(`(?i)(?:/[^\s/"']+)+/([^\s/"']+\.(?:jpe?g|png|heic|mp4|mov|m4v|tflite))`)

	ipv4Pattern = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)
)

// ScrubMessage anonymizes URLs, masks secrets and strips the directories of
// media paths found in message.
func ScrubMessage(message string) string {
	message = urlPattern.ReplaceAllStringFunc(message, AnonymizeURL)
	message = secretPattern.ReplaceAllString(message, "$1$2[redacted]")
	return mediaPathPattern.ReplaceAllStringFunc(message, func(p string) string {
		return filepath.Join("[redacted]", filepath.Base(p))
	})
}

// AnonymizeURL replaces a URL with a stable hash of its scheme, host class,
// port and path shape. Credentials and query strings never reach the hash.
func AnonymizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		hash := sha256.Sum256([]byte(rawURL))
		return fmt.Sprintf("url-hash-%x", hash[:8])
	}

	var parts []string
	if u.Scheme != "" {
		parts = append(parts, u.Scheme)
	}
	if host := u.Hostname(); host != "" {
		parts = append(parts, categorizeHost(host))
	}
	if u.Port() != "" {
		parts = append(parts, "port-"+u.Port())
	}
	if u.Path != "" && u.Path != "/" {
		parts = append(parts, anonymizePath(u.Path))
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, ":")))
	return fmt.Sprintf("url-%x", hash[:12])
}

func categorizeHost(host string) string {
	switch {
	case host == "localhost" || host == "127.0.0.1" || host == "::1":
		return "localhost"
	case isPrivateIP(host):
		return "private-ip"
	case ipv4Pattern.MatchString(host) || strings.Contains(host, ":"):
		return "public-ip"
	}
	if i := strings.LastIndexByte(host, '.'); i >= 0 && i < len(host)-1 {
		return "domain-" + host[i+1:]
	}
	return "unknown-host"
}

// anonymizePath keeps the segment count and the well known API segments.
func anonymizePath(path string) string {
	path = strings.Trim(path, "/")
	if path == "" {
		return "root"
	}
	var out []string
	for _, seg := range strings.Split(path, "/") {
		switch {
		case seg == "":
			continue
		case isAPISegment(seg):
			out = append(out, seg)
		case isNumeric(seg):
			out = append(out, "numeric")
		default:
			hash := sha256.Sum256([]byte(seg))
			out = append(out, fmt.Sprintf("seg-%x", hash[:4]))
		}
	}
	return strings.Join(out, "/")
}

func isPrivateIP(host string) bool {
	prefixes := []string{
		"10.", "192.168.", "169.254.",
		"fc00:", "fd00:", "fe80:",
	}
	host = strings.ToLower(host)
	for _, p := range prefixes {
		if strings.HasPrefix(host, p) {
			return true
		}
	}
	// 172.16.0.0/12
	for i := 16; i <= 31; i++ {
		if strings.HasPrefix(host, fmt.Sprintf("172.%d.", i)) {
			return true
		}
	}
	return false
}

func isAPISegment(seg string) bool {
	switch strings.ToLower(seg) {
	case "api", "v1", "v2", "predict", "config", "jobs", "ws", "models", "download":
		return true
	}
	return false
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
