// Package idx issues ULIDs for request correlation and state subscriber
// handles.
package idx

import (
	"crypto/rand"
	"errors"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
)

type ID string

var ErrInvalid = errors.New("idx: invalid ulid")

// The monotonic entropy source is not safe for concurrent use.
var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// New returns a ULID for the current time. IDs issued by one process sort in
// the order they were created.
func New() ID {
	mu.Lock()
	defer mu.Unlock()

	return ID(ulid.MustNew(ulid.Now(), entropy).String())
}

// Parse accepts a canonical ULID, such as a request id echoed back by a
// client, and returns it upper-cased.
func Parse(s string) (ID, error) {
	u, err := ulid.ParseStrict(strings.TrimSpace(s))
	if err != nil {
		return "", ErrInvalid
	}
	return ID(u.String()), nil
}

func (id ID) String() string { return string(id) }
