package ledger

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"soljack/internal/game"
)

// TableAccount is the decoded on-chain table state. The layout is the
// game program's Anchor account: an 8-byte discriminator followed by
// little-endian borsh fields.
type TableAccount struct {
	TableID     uint64
	BetAmount   uint64
	Creator     string
	CreatorRole game.Role
	Opponent    string
	State       game.Phase
	CreatedAt   int64

	Deck      []byte
	DeckIndex uint8

	CreatorHand   []byte
	OpponentHand  []byte
	CreatorTotal  uint8
	OpponentTotal uint8

	CurrentTurn  game.Role
	TurnDeadline int64
	HandNumber   uint32

	CreatorCommitment  []byte
	OpponentCommitment []byte
	CreatorSeed        []byte
	OpponentSeed       []byte

	Bump uint8
}

// tableAccountDiscriminator is the Anchor account discriminator:
// sha256("account:TableAccount")[:8].
var tableAccountDiscriminator = func() []byte {
	sum := sha256.Sum256([]byte("account:TableAccount"))
	return sum[:8]
}()

var (
	errShortBuffer   = fmt.Errorf("short buffer")
	errDiscriminator = fmt.Errorf("discriminator mismatch")
)

// DecodeTableAccount parses a raw account payload. Any malformed payload
// yields an error; the watcher logs and drops it rather than crashing.
func DecodeTableAccount(data []byte) (*TableAccount, error) {
	r := &reader{buf: data}

	disc := r.bytes(8)
	if r.err != nil {
		return nil, errShortBuffer
	}
	if string(disc) != string(tableAccountDiscriminator) {
		return nil, errDiscriminator
	}

	acc := &TableAccount{}
	acc.TableID = r.u64()
	acc.BetAmount = r.u64()
	acc.Creator = hex.EncodeToString(r.bytes(32))
	acc.CreatorRole = decodeRole(r.u8())

	if r.option() {
		acc.Opponent = hex.EncodeToString(r.bytes(32))
	}

	state := r.u8()
	acc.CreatedAt = r.i64()
	acc.Deck = r.vec()
	acc.DeckIndex = r.u8()
	acc.CreatorHand = r.vec()
	acc.OpponentHand = r.vec()
	acc.CreatorTotal = r.u8()
	acc.OpponentTotal = r.u8()

	if r.option() {
		acc.CurrentTurn = decodeRole(r.u8())
	}

	acc.TurnDeadline = r.i64()
	acc.HandNumber = r.u32()

	if r.option() {
		acc.CreatorCommitment = r.bytes(32)
	}
	if r.option() {
		acc.OpponentCommitment = r.bytes(32)
	}
	if r.option() {
		acc.CreatorSeed = r.bytes(32)
	}
	if r.option() {
		acc.OpponentSeed = r.bytes(32)
	}
	acc.Bump = r.u8()

	if r.err != nil {
		return nil, r.err
	}

	phase, err := decodeState(state)
	if err != nil {
		return nil, err
	}
	acc.State = phase

	return acc, nil
}

func decodeRole(b uint8) game.Role {
	if b == 0 {
		return game.RoleDealer
	}
	return game.RolePlayer
}

func decodeState(b uint8) (game.Phase, error) {
	switch b {
	case 0:
		return game.PhaseWaiting, nil
	case 1:
		return game.PhaseCommitting, nil
	case 2:
		return game.PhaseActive, nil
	case 3:
		return game.PhaseSettled, nil
	default:
		return "", fmt.Errorf("unknown table state %d", b)
	}
}

// reader is a little-endian borsh cursor. The first failed read sets err
// and every later read returns zero values.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.buf) {
		r.err = errShortBuffer
		return nil
	}
	out := r.buf[r.off : r.off+n]
	r.off += n
	return out
}

func (r *reader) u8() uint8 {
	b := r.bytes(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u32() uint32 {
	b := r.bytes(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.bytes(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *reader) i64() int64 {
	return int64(r.u64())
}

// option reads a borsh Option tag.
func (r *reader) option() bool {
	tag := r.u8()
	if r.err != nil {
		return false
	}
	if tag > 1 {
		r.err = fmt.Errorf("invalid option tag %d", tag)
		return false
	}
	return tag == 1
}

// vec reads a borsh Vec<u8>: u32 length prefix then the bytes.
func (r *reader) vec() []byte {
	n := r.u32()
	if r.err != nil {
		return nil
	}
	if n > uint32(len(r.buf)) {
		r.err = fmt.Errorf("vec length %d exceeds buffer", n)
		return nil
	}
	return r.bytes(int(n))
}
