package game

import (
	"time"
)

// Role is a participant's declared seat. The two roles are complementary:
// a table always has exactly one DEALER and one PLAYER once full.
type Role string

const (
	RoleDealer Role = "DEALER"
	RolePlayer Role = "PLAYER"
)

func (r Role) Valid() bool {
	return r == RoleDealer || r == RolePlayer
}

func (r Role) Complement() Role {
	if r == RoleDealer {
		return RolePlayer
	}
	return RoleDealer
}

// Phase is the table lifecycle state.
type Phase string

const (
	PhaseWaiting    Phase = "WAITING"
	PhaseCommitting Phase = "COMMITTING"
	PhaseActive     Phase = "ACTIVE"
	PhaseSettled    Phase = "SETTLED"
	PhaseForfeited  Phase = "FORFEITED"
)

// Outcome is the terminal result of a table. Winner is empty on push or
// void. Reason is one of the Reason* constants.
type Outcome struct {
	Winner Role   `json:"winner,omitempty"`
	Push   bool   `json:"push,omitempty"`
	Void   bool   `json:"void,omitempty"`
	Reason string `json:"reason"`
}

// Settlement is handed to the OnSettle callback when a table reaches a
// terminal outcome. The external ledger owns payouts; this record feeds the
// settlement archive and derived stats.
type Settlement struct {
	TableAddress   string
	BetAmount      uint64
	Creator        string
	Opponent       string
	CreatorRole    Role
	Winner         Role
	WinnerIdentity string
	Push           bool
	Void           bool
	Reason         string
	PlayerTotal    int
	DealerTotal    int
	SettledAt      time.Time
}

// OnSettleFunc runs outside the table lock after a terminal transition.
type OnSettleFunc func(s Settlement)

// TableView is the public snapshot of a table. The deck and any unrevealed
// seeds stay private to the coordinating process.
type TableView struct {
	TableID       string   `json:"tableId"`
	State         Phase    `json:"state"`
	BetAmount     uint64   `json:"betAmount"`
	Creator       string   `json:"creator"`
	Opponent      string   `json:"opponent,omitempty"`
	CreatorRole   Role     `json:"creatorRole"`
	HandNumber    int      `json:"handNumber"`
	CurrentTurn   Role     `json:"currentTurn,omitempty"`
	TurnDeadline  int64    `json:"turnDeadline,omitempty"`
	CreatorHand   []int    `json:"creatorHand,omitempty"`
	OpponentHand  []int    `json:"opponentHand,omitempty"`
	CreatorTotal  int      `json:"creatorTotal,omitempty"`
	OpponentTotal int      `json:"opponentTotal,omitempty"`
	DeckRemaining int      `json:"deckRemaining"`
	Outcome       *Outcome `json:"outcome,omitempty"`
	CreatedAt     int64    `json:"createdAt"`
}

// OpenTableView is the lobby listing entry for a WAITING table.
type OpenTableView struct {
	TableID       string `json:"tableId"`
	BetAmount     uint64 `json:"betAmount"`
	Creator       string `json:"creator"`
	CreatorRole   Role   `json:"creatorRole"`
	OpenRole      Role   `json:"openRole"`
	TimeRemaining int64  `json:"timeRemaining"`
	CreatedAt     int64  `json:"createdAt"`
}

// Action is a turn-holder move.
type Action string

const (
	ActionHit   Action = "hit"
	ActionStand Action = "stand"
)
