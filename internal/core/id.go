package core

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	idMu sync.Mutex
	mono io.Reader
)

func init() {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	mono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// NewID returns a ULID stamped with the given time. IDs generated for the
// same millisecond stay lexicographically increasing, so trade records sort
// by simulated time rather than wall-clock time.
func NewID(at time.Time) string {
	idMu.Lock()
	defer idMu.Unlock()

	if at.IsZero() {
		at = time.Now()
	}
	id, err := ulid.New(ulid.Timestamp(at.UTC()), mono)
	if err != nil {
		// monotonic entropy overflowed within one millisecond
		id = ulid.MustNew(ulid.Timestamp(at.UTC()), cryptoRand.Reader)
	}
	return id.String()
}
