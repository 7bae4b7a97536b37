package selector

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strings"
	"sync/atomic"
)

// tableSectionTags are the tag names whose standalone fragments get
// stripped by a full-document HTML parse when not already wrapped in a
// table/tbody/tr ancestor, per spec.md's documented workaround.
var tableSectionTags = map[string]bool{
	"td": true, "tr": true, "th": true,
	"tbody": true, "thead": true, "tfoot": true, "body": true,
}

// startsWithTableSectionTag reports whether fragment's first tag is one
// that a naive standalone parse would strip.
func startsWithTableSectionTag(fragment string) bool {
	trimmed := strings.TrimSpace(fragment)
	if !strings.HasPrefix(trimmed, "<") {
		return false
	}
	rest := trimmed[1:]
	end := strings.IndexAny(rest, " \t\n\r/>")
	if end < 0 {
		end = len(rest)
	}
	tag := strings.ToLower(rest[:end])
	return tableSectionTags[tag]
}

var markerSeq uint64

// newMarker produces a process-unique token that cannot collide with
// client-supplied replacement HTML: it is never emitted as markup by the
// renderer except as a bare text run, and textual substitution happens
// before the result is re-parsed.
func newMarker() string {
	n := atomic.AddUint64(&markerSeq, 1)
	return fmt.Sprintf("\x00BEAMHOST-SELECTOR-MARKER-%d-%d\x00", processMarkerSalt, n)
}

// processMarkerSalt distinguishes markers minted by distinct process runs,
// so a marker can never collide with literal text a client submits.
var processMarkerSalt = randomSalt()

func randomSalt() uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0x9E3779B97F4A7C15
	}
	return binary.LittleEndian.Uint64(buf[:])
}
