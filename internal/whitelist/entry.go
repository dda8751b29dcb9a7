package whitelist

import (
	"strings"
	"time"
)

const (
	maxDomainLen = 253
	maxLabelLen  = 63
)

// Entry is one allow-listed network name.
type Entry struct {
	ID      string    `json:"id"`
	Domain  string    `json:"domain"`
	AddedAt time.Time `json:"addedAt"`
	AddedBy string    `json:"addedBy"`
}

// NormalizeDomain lowercases and trims a candidate domain.
func NormalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}

// ValidDomain reports whether domain matches the hostname-label grammar:
// dot-separated alphanumeric/hyphen labels with no leading or trailing
// hyphen, at least two labels, and a final label that is alphabetic and at
// least two characters long. Callers normalize first.
func ValidDomain(domain string) bool {
	if domain == "" || len(domain) > maxDomainLen {
		return false
	}
	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if !validLabel(label) {
			return false
		}
	}
	return validTLD(labels[len(labels)-1])
}

func validLabel(label string) bool {
	if label == "" || len(label) > maxLabelLen {
		return false
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return false
	}
	for i := 0; i < len(label); i++ {
		c := label[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' {
			continue
		}
		return false
	}
	return true
}

func validTLD(label string) bool {
	if len(label) < 2 {
		return false
	}
	for i := 0; i < len(label); i++ {
		if label[i] < 'a' || label[i] > 'z' {
			return false
		}
	}
	return true
}
