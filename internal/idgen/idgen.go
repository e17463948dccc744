package idgen

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// requestNumberPattern matches REQ-<14 digit UTC timestamp>-<4 digit counter>.
var requestNumberPattern = regexp.MustCompile(`^REQ-\d{14}-\d{4}$`)

// Generator produces request numbers of the form REQ-YYYYMMDDHHMMSS-NNNN.
// The counter is process-local, guarded by a mutex, and wraps back to 1 after
// the configured maximum so the suffix always stays four digits.
type Generator struct {
	mu      sync.Mutex
	counter int64
	wrap    int64
	now     func() time.Time
}

// NewGenerator returns a Generator that wraps its counter after wrap
// (9999 when wrap is not positive).
func NewGenerator(wrap int64) *Generator {
	if wrap <= 0 {
		wrap = 9999
	}
	return &Generator{wrap: wrap, now: time.Now}
}

// WithClock overrides the time source. Used by tests.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// NextRequestNumber allocates the next request number. Two calls within the
// same second still differ through the counter suffix.
func (g *Generator) NextRequestNumber() string {
	g.mu.Lock()
	g.counter++
	if g.counter > g.wrap {
		g.counter = 1
	}
	n := g.counter
	g.mu.Unlock()

	return fmt.Sprintf("REQ-%s-%04d", g.now().UTC().Format("20060102150405"), n)
}

// ValidRequestNumber reports whether s has the REQ-timestamp-counter shape.
// Pre-generated numbers handed back by clients are checked with this before
// they are trusted.
func ValidRequestNumber(s string) bool {
	return requestNumberPattern.MatchString(s)
}

// NewUniqueCode returns a 12-character uppercase hex code derived from a
// random UUID. Collisions are handled by the caller's retry loop.
func NewUniqueCode() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(hex[:12])
}
