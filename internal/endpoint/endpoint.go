package endpoint

import (
	"fmt"
	"strings"
)

// Normalize turns a bare port into a listen address and leaves host:port untouched.
func Normalize(addr string) string {
	if addr == "" {
		return ":0"
	}

	if strings.Contains(addr, ":") {
		return addr
	}

	return fmt.Sprintf(":%s", addr)
}
