package serialmux

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	ReplyNumber = "number"
	ReplyError  = "error"
	ReplyText   = "text"
)

// ClassifyReply returns a coarse type for a device line. SCPI error queue
// entries look like `-113,"Undefined header"`.
func ClassifyReply(line string) string {
	line = strings.TrimSpace(line)
	if _, err := ParseNumber(line); err == nil {
		return ReplyNumber
	}
	upper := strings.ToUpper(line)
	if strings.HasPrefix(upper, "ERR") || strings.HasPrefix(line, "-") && strings.Contains(line, ",") {
		return ReplyError
	}
	return ReplyText
}

// ParseNumber parses a numeric reply such as "+1.234000E-01", tolerating a
// trailing unit letter ("0.25A").
func ParseNumber(line string) (float64, error) {
	s := strings.TrimSpace(line)
	s = strings.TrimRight(s, "AaVv")
	if s == "" {
		return 0, fmt.Errorf("empty numeric reply %q", line)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric reply %q: %w", line, err)
	}
	return v, nil
}
