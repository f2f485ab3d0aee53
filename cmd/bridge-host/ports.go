package main

import (
	"fmt"
	"strconv"
	"strings"
)

// parsePortRange accepts "8400-8419", a single port, or "0" for any port.
func parsePortRange(s string) (PortRange, error) {
	s = strings.TrimSpace(s)
	first, last, found := strings.Cut(s, "-")
	lo, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil {
		return PortRange{}, fmt.Errorf("port range %q: %w", s, err)
	}
	if !found {
		return PortRange{First: lo, Last: lo}, nil
	}
	hi, err := strconv.Atoi(strings.TrimSpace(last))
	if err != nil {
		return PortRange{}, fmt.Errorf("port range %q: %w", s, err)
	}
	return PortRange{First: lo, Last: hi}, nil
}
