package obs

import "strings"

const redacted = "[REDACTED]"

// MaskAddress keeps the first six and last four characters of a hex address.
// Values too short to be addresses are fully redacted.
func MaskAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if len(addr) < 12 {
		return redacted
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}
