package crawler

import "strings"

// HostBlocklist matches hosts against exact names and "*.suffix" or
// ".suffix" patterns. A nil HostBlocklist blocks nothing.
type HostBlocklist struct {
	exact    map[string]struct{}
	suffixes []string
}

// NewHostBlocklist compiles patterns. It returns nil when no usable pattern
// remains.
func NewHostBlocklist(patterns []string) *HostBlocklist {
	b := &HostBlocklist{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		p := strings.ToLower(strings.TrimSpace(raw))
		suffix, isSuffix := strings.CutPrefix(p, "*.")
		if !isSuffix {
			suffix, isSuffix = strings.CutPrefix(p, ".")
		}
		switch {
		case isSuffix && suffix != "":
			b.addSuffix(suffix)
		case !isSuffix && p != "":
			b.exact[p] = struct{}{}
		}
	}
	if len(b.exact) == 0 && len(b.suffixes) == 0 {
		return nil
	}
	return b
}

func (b *HostBlocklist) addSuffix(suffix string) {
	for _, s := range b.suffixes {
		if s == suffix {
			return
		}
	}
	b.suffixes = append(b.suffixes, suffix)
}

// Blocked reports whether host matches a pattern. A suffix pattern also
// matches the bare suffix itself.
func (b *HostBlocklist) Blocked(host string) bool {
	if b == nil {
		return false
	}
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return false
	}
	if _, ok := b.exact[host]; ok {
		return true
	}
	for _, s := range b.suffixes {
		if host == s || strings.HasSuffix(host, "."+s) {
			return true
		}
	}
	return false
}

// BlockedURL reports whether the host of rawURL is blocked.
func (b *HostBlocklist) BlockedURL(rawURL string) bool {
	return b.Blocked(Host(rawURL))
}
