package game

// Domain events pushed to subscribers. Each event is its own typed struct
// carrying an embedded Meta; the hub stamps Meta and encodes to JSON at the
// transport boundary. Deliveries are best-effort: a closed or backpressured
// connection drops the frame and clients reconcile by polling table state.

// Meta holds the fields common to every pushed event.
type Meta struct {
	Event     string `json:"event"`
	TableID   string `json:"tableId,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func (m *Meta) meta() *Meta { return m }

// Event is one tagged variant of the domain event set.
type Event interface {
	EventName() string
	meta() *Meta
}

type TableCreated struct {
	Meta
	BetAmount   uint64 `json:"betAmount"`
	Creator     string `json:"creator"`
	CreatorRole Role   `json:"creatorRole"`
	OpenRole    Role   `json:"openRole"`
	State       Phase  `json:"state"`
}

func (TableCreated) EventName() string { return "table_created" }

type PlayerJoined struct {
	Meta
	Opponent string `json:"opponent"`
	State    Phase  `json:"state"`
}

func (PlayerJoined) EventName() string { return "player_joined" }

// DeckShuffling signals that both commitments are in and the table is in
// the reveal stage.
type DeckShuffling struct {
	Meta
	CommitDeadline int64 `json:"commitDeadline"`
}

func (DeckShuffling) EventName() string { return "deck_shuffling" }

type HandStarted struct {
	Meta
	HandNumber   int    `json:"handNumber"`
	PlayerHand   []int  `json:"playerHand"`
	DealerHand   []int  `json:"dealerHand"`
	PlayerTotal  int    `json:"playerTotal"`
	DealerTotal  int    `json:"dealerTotal"`
	CurrentTurn  Role   `json:"currentTurn"`
	TurnDeadline int64  `json:"turnDeadline"`
	DeckHash     string `json:"deckHash,omitempty"`
}

func (HandStarted) EventName() string { return "hand_started" }

type CardDealt struct {
	Meta
	Role  Role `json:"role"`
	Card  int  `json:"card"`
	Total int  `json:"total"`
	Soft  bool `json:"soft"`
	Bust  bool `json:"bust"`
}

func (CardDealt) EventName() string { return "card_dealt" }

type TurnChanged struct {
	Meta
	CurrentTurn  Role  `json:"currentTurn"`
	TurnDeadline int64 `json:"turnDeadline"`
}

func (TurnChanged) EventName() string { return "turn_changed" }

// HandSettled reports the terminal outcome of a hand. Reason distinguishes
// normal play resolution from timeout forfeiture and fairness violations.
type HandSettled struct {
	Meta
	Winner      Role   `json:"winner,omitempty"`
	Push        bool   `json:"push,omitempty"`
	Void        bool   `json:"void,omitempty"`
	Reason      string `json:"reason"`
	PlayerTotal int    `json:"playerTotal,omitempty"`
	DealerTotal int    `json:"dealerTotal,omitempty"`
	BetAmount   uint64 `json:"betAmount"`
}

func (HandSettled) EventName() string { return "hand_settled" }

type TableClosed struct {
	Meta
	Reason string `json:"reason"`
	Winner Role   `json:"winner,omitempty"`
}

func (TableClosed) EventName() string { return "table_closed" }

// Settlement reasons carried by HandSettled and TableClosed.
const (
	ReasonPlay      = "play"
	ReasonTimeout   = "timeout"
	ReasonViolation = "violation"
	ReasonSettled   = "settled"
	ReasonVoid      = "void"
)
