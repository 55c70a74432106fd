package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu   sync.Mutex
	mono io.Reader
)

func init() {
	// Seed a PRNG from crypto/rand so ULID entropy is unpredictable.
	// ulid.Monotonic keeps IDs generated within the same millisecond increasing.
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	mono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// New returns a ULID string (time-sortable identifier).
func New() string {
	mu.Lock()
	defer mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(time.Now().UTC()), mono)
	if err != nil {
		// Only possible if time goes backwards or entropy fails.
		panic(err)
	}
	return id.String()
}

// Leg suffixes for the client order ids of a bracket.
const (
	LegEntry      = "E"
	LegTakeProfit = "TP"
	LegStopLoss   = "SL"
	LegRollback   = "RB"
	LegClose      = "CL"
)

// ClientOrderID links an order to its bracket: "<bracketID>-<leg>".
func ClientOrderID(bracketID, leg string) string {
	return bracketID + "-" + leg
}

// ParseClientOrderID splits a client order id built by ClientOrderID.
func ParseClientOrderID(s string) (bracketID, leg string, ok bool) {
	i := strings.LastIndexByte(s, '-')
	if i <= 0 || i == len(s)-1 {
		return "", "", false
	}
	if _, err := ulid.ParseStrict(s[:i]); err != nil {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}
