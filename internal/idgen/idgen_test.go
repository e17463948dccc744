package idgen

import (
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestNextRequestNumberFormat(t *testing.T) {
	at := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	g := NewGenerator(9999).WithClock(fixedClock(at))

	got := g.NextRequestNumber()
	assert.Equal(t, "REQ-20250314092653-0001", got)
	assert.True(t, ValidRequestNumber(got))
}

func TestCounterWrapsAfterMax(t *testing.T) {
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	g := NewGenerator(3).WithClock(fixedClock(at))

	assert.Equal(t, "REQ-20250101000000-0001", g.NextRequestNumber())
	assert.Equal(t, "REQ-20250101000000-0002", g.NextRequestNumber())
	assert.Equal(t, "REQ-20250101000000-0003", g.NextRequestNumber())
	// Counter exhausted, next allocation restarts at 1.
	assert.Equal(t, "REQ-20250101000000-0001", g.NextRequestNumber())
}

func TestConcurrentAllocationsAreDistinct(t *testing.T) {
	g := NewGenerator(9999)

	const n = 50
	var wg sync.WaitGroup
	results := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- g.NextRequestNumber()
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[string]bool, n)
	for num := range results {
		require.False(t, seen[num], "duplicate request number %s", num)
		seen[num] = true
	}
	assert.Len(t, seen, n)
}

func TestValidRequestNumber(t *testing.T) {
	assert.True(t, ValidRequestNumber("REQ-20250314092653-0042"))
	assert.False(t, ValidRequestNumber("REQ-2025031409265-0042"))  // 13 digit timestamp
	assert.False(t, ValidRequestNumber("REQ-20250314092653-42"))   // short counter
	assert.False(t, ValidRequestNumber("req-20250314092653-0042")) // lowercase prefix
	assert.False(t, ValidRequestNumber("REQ-20250314092653-00421"))
	assert.False(t, ValidRequestNumber(""))
}

func TestNewUniqueCode(t *testing.T) {
	codePattern := regexp.MustCompile(`^[0-9A-F]{12}$`)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code := NewUniqueCode()
		require.Regexp(t, codePattern, code)
		require.False(t, seen[code], "duplicate unique code %s", code)
		seen[code] = true
	}
}
