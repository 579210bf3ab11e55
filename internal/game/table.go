package game

import (
	"sync"
	"time"
)

// Valid bet tiers in lamports, mirroring the on-chain program.
var BetTiers = []uint64{
	10_000_000,    // 0.01 SOL
	50_000_000,    // 0.05 SOL
	100_000_000,   // 0.1 SOL
	250_000_000,   // 0.25 SOL
	500_000_000,   // 0.5 SOL
	1_000_000_000, // 1 SOL
}

func validBetAmount(amount uint64) bool {
	for _, t := range BetTiers {
		if t == amount {
			return true
		}
	}
	return false
}

// Table holds the full state of one head-to-head session. Every mutating
// operation runs under mu; the deck and unrevealed seeds never leave it.
type Table struct {
	mu sync.Mutex

	Address     string
	BetAmount   uint64
	Creator     string
	CreatorRole Role
	Opponent    string
	Phase       Phase
	CreatedAt   time.Time

	deck      [DECK_SIZE]Card
	deckIndex int

	hands  map[Role][]Card
	totals map[Role]int

	CurrentTurn  Role
	TurnDeadline time.Time
	HandNumber   int

	commitments map[string]string // participant identity -> commitment hex
	seeds       map[string]string // participant identity -> revealed seed

	Outcome *Outcome

	// timerSerial increments on every deadline re-arm; a stale timer fires,
	// sees a serial mismatch under the lock and no-ops.
	timerSerial int
	timer       *time.Timer
	closed      bool
}

func newTable(address string, bet uint64, creator string, role Role, now time.Time) *Table {
	return &Table{
		Address:     address,
		BetAmount:   bet,
		Creator:     creator,
		CreatorRole: role,
		Phase:       PhaseWaiting,
		CreatedAt:   now,
		hands:       make(map[Role][]Card),
		totals:      make(map[Role]int),
		commitments: make(map[string]string),
		seeds:       make(map[string]string),
	}
}

// roleOf maps a participant identity to their seat. Caller holds mu.
func (t *Table) roleOf(identity string) (Role, error) {
	switch identity {
	case t.Creator:
		return t.CreatorRole, nil
	case t.Opponent:
		if t.Opponent == "" {
			return "", ErrNotParticipant
		}
		return t.CreatorRole.Complement(), nil
	default:
		return "", ErrNotParticipant
	}
}

// identityOf is the inverse of roleOf. Caller holds mu.
func (t *Table) identityOf(role Role) string {
	if role == t.CreatorRole {
		return t.Creator
	}
	return t.Opponent
}

// dealCard removes one card from the top of the deck and appends it to the
// role's hand, recomputing the total. Caller holds mu.
func (t *Table) dealCard(role Role) (Card, error) {
	if t.deckIndex >= DECK_SIZE {
		return 0, ErrDeckExhausted
	}
	card := t.deck[t.deckIndex]
	t.deckIndex++
	t.hands[role] = append(t.hands[role], card)
	total, _ := t.HandTotalOf(role)
	t.totals[role] = total
	return card, nil
}

// HandTotalOf recomputes the role's total from its hand. Caller holds mu.
func (t *Table) HandTotalOf(role Role) (int, bool) {
	return HandTotal(t.hands[role])
}

func ranks(hand []Card) []int {
	out := make([]int, len(hand))
	for i, c := range hand {
		out[i] = c.Rank()
	}
	return out
}

// view builds the public snapshot. Caller holds mu.
func (t *Table) view() TableView {
	v := TableView{
		TableID:       t.Address,
		State:         t.Phase,
		BetAmount:     t.BetAmount,
		Creator:       t.Creator,
		Opponent:      t.Opponent,
		CreatorRole:   t.CreatorRole,
		HandNumber:    t.HandNumber,
		CurrentTurn:   t.CurrentTurn,
		DeckRemaining: DECK_SIZE - t.deckIndex,
		Outcome:       t.Outcome,
		CreatedAt:     t.CreatedAt.UnixMilli(),
	}
	if !t.TurnDeadline.IsZero() {
		v.TurnDeadline = t.TurnDeadline.UnixMilli()
	}
	if t.Phase == PhaseWaiting {
		v.DeckRemaining = 0
	}
	oppRole := t.CreatorRole.Complement()
	if len(t.hands[t.CreatorRole]) > 0 {
		v.CreatorHand = ranks(t.hands[t.CreatorRole])
		v.CreatorTotal = t.totals[t.CreatorRole]
	}
	if len(t.hands[oppRole]) > 0 {
		v.OpponentHand = ranks(t.hands[oppRole])
		v.OpponentTotal = t.totals[oppRole]
	}
	return v
}

// openView builds the lobby listing entry. Caller holds mu. TurnDeadline
// doubles as the join deadline while the table is WAITING.
func (t *Table) openView(now time.Time) OpenTableView {
	remaining := int64(0)
	if t.TurnDeadline.After(now) {
		remaining = int64(t.TurnDeadline.Sub(now).Seconds())
	}
	return OpenTableView{
		TableID:       t.Address,
		BetAmount:     t.BetAmount,
		Creator:       t.Creator,
		CreatorRole:   t.CreatorRole,
		OpenRole:      t.CreatorRole.Complement(),
		TimeRemaining: remaining,
		CreatedAt:     t.CreatedAt.UnixMilli(),
	}
}
