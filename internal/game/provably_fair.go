package game

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

const (
	SEED_BYTES = 32
	DECK_SIZE  = 52
)

// Card identifies one card in a 52-card deck, 1..52.
// Rank runs ace (1) through king (13), suit is (id-1)/13.
type Card uint8

func (c Card) Rank() int {
	return int(c-1)%13 + 1
}

func (c Card) Suit() int {
	return int(c-1) / 13
}

// Value returns the blackjack point value: ace 11, face cards 10.
// Soft-ace demotion happens in HandTotal, not here.
func (c Card) Value() int {
	r := c.Rank()
	switch {
	case r == 1:
		return 11
	case r > 10:
		return 10
	default:
		return r
	}
}

// GenerateSeed creates a cryptographically secure random seed
func GenerateSeed() string {
	b := make([]byte, SEED_BYTES)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// HashCommitment creates a SHA256 hash of the seed for commitment
func HashCommitment(seed string) string {
	h := sha256.New()
	h.Write([]byte(seed))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyReveal recomputes the commitment for a revealed seed and compares
// exactly. A mismatch is a fairness violation, not a retryable error.
func VerifyReveal(commitment, seed string) bool {
	computed := HashCommitment(seed)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(commitment)) == 1
}

// DeriveShuffle combines both revealed seeds into a single combined seed
// and runs a Fisher-Yates shuffle over the 52-card identifier space.
// The permutation is deterministic: identical seeds produce a bit-identical
// deck on every invocation, which is what lets either party audit the
// shuffle after the fact.
func DeriveShuffle(seedA, seedB string) ([DECK_SIZE]Card, error) {
	var deck [DECK_SIZE]Card

	a, err := decodeSeed(seedA)
	if err != nil {
		return deck, fmt.Errorf("seed A: %w", err)
	}
	b, err := decodeSeed(seedB)
	if err != nil {
		return deck, fmt.Errorf("seed B: %w", err)
	}

	h := sha256.New()
	h.Write(a)
	h.Write(b)
	combined := h.Sum(nil)

	for i := range deck {
		deck[i] = Card(i + 1)
	}

	stream := newSeedStream(combined)
	for i := DECK_SIZE - 1; i > 0; i-- {
		j := int(stream.next() % uint64(i+1))
		deck[i], deck[j] = deck[j], deck[i]
	}

	return deck, nil
}

func decodeSeed(seed string) ([]byte, error) {
	raw, err := hex.DecodeString(seed)
	if err != nil {
		return nil, fmt.Errorf("not hex encoded: %w", err)
	}
	if len(raw) != SEED_BYTES {
		return nil, fmt.Errorf("expected %d bytes, got %d", SEED_BYTES, len(raw))
	}
	return raw, nil
}

// seedStream is a deterministic HMAC-SHA256 counter stream used to drive
// the Fisher-Yates picks from the combined seed.
type seedStream struct {
	key     []byte
	counter uint64
	block   []byte
	offset  int
}

func newSeedStream(key []byte) *seedStream {
	return &seedStream{key: key}
}

func (s *seedStream) next() uint64 {
	if s.block == nil || s.offset+8 > len(s.block) {
		var ctr [8]byte
		binary.LittleEndian.PutUint64(ctr[:], s.counter)
		mac := hmac.New(sha256.New, s.key)
		mac.Write(ctr[:])
		s.block = mac.Sum(nil)
		s.offset = 0
		s.counter++
	}
	v := binary.LittleEndian.Uint64(s.block[s.offset : s.offset+8])
	s.offset += 8
	return v
}

// HandTotal computes the blackjack total for a hand. Aces count as eleven,
// demoted to one while the total exceeds twenty-one. The returned soft flag
// reports whether an ace is still counted as eleven.
func HandTotal(hand []Card) (total int, soft bool) {
	aces := 0
	for _, c := range hand {
		v := c.Value()
		if v == 11 {
			aces++
		}
		total += v
	}
	for total > 21 && aces > 0 {
		total -= 10
		aces--
	}
	return total, aces > 0
}
