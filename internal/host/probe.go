package host

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

// ProbeError represents a failed reachability probe with a categorized reason.
type ProbeError struct {
	Address string
	Reason  ProbeFailReason
	Cause   error
}

// ProbeFailReason categorizes why a probe failed.
type ProbeFailReason int

const (
	ProbeFailUnknown ProbeFailReason = iota
	ProbeFailTimeout
	ProbeFailRefused
	ProbeFailUnreachable
	ProbeFailDNS
)

// String returns a human-readable description of the failure reason.
func (r ProbeFailReason) String() string {
	switch r {
	case ProbeFailTimeout:
		return "connection timed out"
	case ProbeFailRefused:
		return "connection refused"
	case ProbeFailUnreachable:
		return "host unreachable"
	case ProbeFailDNS:
		return "hostname not resolvable"
	default:
		return "unknown error"
	}
}

func (e *ProbeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("probe %s failed: %s (%v)", e.Address, e.Reason, e.Cause)
	}
	return fmt.Sprintf("probe %s failed: %s", e.Address, e.Reason)
}

func (e *ProbeError) Unwrap() error {
	return e.Cause
}

// ProbeResult is the outcome of probing one descriptor.
type ProbeResult struct {
	Host    Descriptor
	Latency time.Duration
	Error   error
}

// OK reports whether the probe succeeded.
func (r ProbeResult) OK() bool {
	return r.Error == nil
}

// Probe opens and closes a TCP connection to the host's SSH port. Hosts
// behind a ProxyJump can't be probed directly and report no error.
func Probe(d Descriptor, timeout time.Duration) ProbeResult {
	if d.ProxyJump != "" {
		return ProbeResult{Host: d}
	}

	start := time.Now()
	conn, err := net.DialTimeout("tcp", d.Address(), timeout)
	if err != nil {
		return ProbeResult{Host: d, Error: categorizeProbeError(d.Address(), err)}
	}
	conn.Close()
	return ProbeResult{Host: d, Latency: time.Since(start)}
}

// ProbeAll probes every descriptor concurrently; results keep input order.
func ProbeAll(list []Descriptor, timeout time.Duration) []ProbeResult {
	results := make([]ProbeResult, len(list))
	var wg sync.WaitGroup
	for i, d := range list {
		wg.Add(1)
		go func(i int, d Descriptor) {
			defer wg.Done()
			results[i] = Probe(d, timeout)
		}(i, d)
	}
	wg.Wait()
	return results
}

// categorizeProbeError converts a dial error into a ProbeError.
func categorizeProbeError(address string, err error) *ProbeError {
	if err == nil {
		return nil
	}

	probeErr := &ProbeError{
		Address: address,
		Reason:  ProbeFailUnknown,
		Cause:   err,
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout"):
		probeErr.Reason = ProbeFailTimeout
	case strings.Contains(errStr, "connection refused"):
		probeErr.Reason = ProbeFailRefused
	case strings.Contains(errStr, "no route to host"),
		strings.Contains(errStr, "network is unreachable"),
		strings.Contains(errStr, "host is down"):
		probeErr.Reason = ProbeFailUnreachable
	case strings.Contains(errStr, "no such host"):
		probeErr.Reason = ProbeFailDNS
	}
	return probeErr
}
