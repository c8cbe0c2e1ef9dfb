package router

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Routing hint headers read at the request boundary.
const (
	HeaderPrefixID      = "x-prefix-id"
	HeaderTotalRequests = "x-prefix-total-requests"
	HeaderOutputLength  = "x-prefix-osl"
	HeaderInterArrival  = "x-prefix-iat"
)

// Level is a coarse three-step hint used for output length and inter-arrival time.
type Level int

const (
	LevelLow Level = iota
	LevelMedium
	LevelHigh
)

// String returns the wire form (LOW, MEDIUM, HIGH).
func (l Level) String() string {
	switch l {
	case LevelLow:
		return "LOW"
	case LevelMedium:
		return "MEDIUM"
	case LevelHigh:
		return "HIGH"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// ParseLevel parses LOW/MEDIUM/HIGH case-insensitively.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW":
		return LevelLow, nil
	case "MEDIUM":
		return LevelMedium, nil
	case "HIGH":
		return LevelHigh, nil
	default:
		return LevelMedium, fmt.Errorf("unknown level %q (expected LOW, MEDIUM or HIGH)", s)
	}
}

// RequestDescriptor is the typed view of one inbound request's routing hints.
// Created once at the boundary and never mutated.
type RequestDescriptor struct {
	PrefixID          string
	ExpectedGroupSize int
	OutputLength      Level
	InterArrival      Level
	TokenCount        int

	// GeneratedPrefix is true when the caller sent no prefix id and one was
	// minted here; such requests are independent (group size 1).
	GeneratedPrefix bool
}

// Metadata is the header-like key/value source for routing hints.
// http.Header satisfies it.
type Metadata interface {
	Get(key string) string
}

// Headers adapts a plain map to Metadata with case-insensitive keys.
type Headers map[string]string

// Get implements Metadata.
func (h Headers) Get(key string) string {
	if v, ok := h[key]; ok {
		return v
	}
	for k, v := range h {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// ExtractDescriptor builds a RequestDescriptor from request metadata and the
// measured prompt length. It never fails: malformed hints fall back to their
// defaults with a warning, because rejecting a request over a bad hint costs
// more than routing it with a neutral one.
func ExtractDescriptor(md Metadata, tokenCount int) RequestDescriptor {
	if tokenCount < 0 {
		logrus.Warnf("ExtractDescriptor: negative token count %d, using 0", tokenCount)
		tokenCount = 0
	}
	d := RequestDescriptor{
		ExpectedGroupSize: 1,
		OutputLength:      LevelMedium,
		InterArrival:      LevelMedium,
		TokenCount:        tokenCount,
	}
	if md == nil {
		md = Headers{}
	}

	d.PrefixID = strings.TrimSpace(md.Get(HeaderPrefixID))
	if d.PrefixID == "" {
		d.PrefixID = uuid.NewString()
		d.GeneratedPrefix = true
	}

	if raw := strings.TrimSpace(md.Get(HeaderTotalRequests)); raw != "" {
		n, err := strconv.Atoi(raw)
		switch {
		case err != nil:
			logrus.Warnf("ExtractDescriptor: malformed %s %q, using 1", HeaderTotalRequests, raw)
		case n < 1:
			logrus.Warnf("ExtractDescriptor: %s must be positive, got %d, using 1", HeaderTotalRequests, n)
		default:
			d.ExpectedGroupSize = n
		}
	}
	if d.GeneratedPrefix {
		d.ExpectedGroupSize = 1
	}

	d.OutputLength = parseLevelHeader(md, HeaderOutputLength)
	d.InterArrival = parseLevelHeader(md, HeaderInterArrival)
	return d
}

func parseLevelHeader(md Metadata, header string) Level {
	raw := md.Get(header)
	if strings.TrimSpace(raw) == "" {
		return LevelMedium
	}
	lvl, err := ParseLevel(raw)
	if err != nil {
		logrus.Warnf("ExtractDescriptor: %s: %v; using MEDIUM", header, err)
		return LevelMedium
	}
	return lvl
}
