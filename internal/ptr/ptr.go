package ptr

import (
	"context"
	"net"
	"net/netip"
	"strings"
	"sync"
	"time"
)

const lookupTimeout = 2 * time.Second

// PtrManager caches reverse lookups for the IP literal addresses being probed
type PtrManager struct {
	mu         sync.Mutex
	cache      map[string]string // ip -> name, "" while a lookup is in progress or failed
	lookupFunc func(ctx context.Context, ip string) ([]string, error)
	retries    int
	retryDelay time.Duration
}

// NewPtrManager creates a PtrManager using the system resolver
func NewPtrManager() *PtrManager {
	return &PtrManager{
		cache:      make(map[string]string),
		lookupFunc: net.DefaultResolver.LookupAddr,
		retries:    3,
		retryDelay: 100 * time.Millisecond,
	}
}

// NewPtrManagerWithLookup creates a PtrManager with a custom lookup function
func NewPtrManagerWithLookup(lookup func(ctx context.Context, ip string) ([]string, error)) *PtrManager {
	pm := NewPtrManager()
	pm.lookupFunc = lookup
	return pm
}

func normalizePTR(name string) string {
	return strings.TrimSuffix(name, ".")
}

// HostIP returns the IP of a host:port address when the host is an IP literal
func HostIP(address string) (string, bool) {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return "", false
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return "", false
	}
	return ip.String(), true
}

// RequestPTR looks up the name of ip unless it is cached or already being looked up
func (pm *PtrManager) RequestPTR(ip string) {
	pm.mu.Lock()
	if _, exists := pm.cache[ip]; exists {
		pm.mu.Unlock()
		return
	}
	pm.cache[ip] = "" // in progress
	pm.mu.Unlock()

	for attempt := range pm.retries {
		if attempt > 0 {
			time.Sleep(pm.retryDelay)
		}
		ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
		names, err := pm.lookupFunc(ctx, ip)
		cancel()
		if err == nil && len(names) > 0 {
			pm.mu.Lock()
			pm.cache[ip] = normalizePTR(names[0])
			pm.mu.Unlock()
			return
		}
	}
}

// GetPTR retrieves the cached name for ip.
// Returns the name and whether a lookup succeeded.
func (pm *PtrManager) GetPTR(ip string) (string, bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	name := pm.cache[ip]
	return name, name != ""
}

// Label returns the reverse name for an IP literal address, or "" if none is known
func (pm *PtrManager) Label(address string) string {
	ip, ok := HostIP(address)
	if !ok {
		return ""
	}
	name, _ := pm.GetPTR(ip)
	return name
}
