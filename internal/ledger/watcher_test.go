package ledger

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soljack/internal/cache"
	"soljack/internal/game"
)

type capturePublisher struct {
	mu     sync.Mutex
	table  []game.Event
	global []game.Event
}

func (p *capturePublisher) PublishToTable(tableID string, ev game.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.table = append(p.table, ev)
}

func (p *capturePublisher) PublishGlobal(ev game.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.global = append(p.global, ev)
}

func names(evs []game.Event) []string {
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.EventName()
	}
	return out
}

func waitingAccount() *TableAccount {
	return &TableAccount{
		TableID:     1,
		BetAmount:   100_000_000,
		Creator:     "creator",
		CreatorRole: game.RoleDealer,
		State:       game.PhaseWaiting,
	}
}

func TestDiffEvents_FirstSight(t *testing.T) {
	evs := diffEvents(nil, waitingAccount())

	require.Equal(t, []string{"table_created"}, names(evs))

	tc := evs[0].(*game.TableCreated)
	assert.Equal(t, uint64(100_000_000), tc.BetAmount)
	assert.Equal(t, game.RoleDealer, tc.CreatorRole)
	assert.Equal(t, game.RolePlayer, tc.OpenRole)
}

func TestDiffEvents_FirstSightOfJoinedTable(t *testing.T) {
	acc := waitingAccount()
	acc.Opponent = "opponent"
	acc.State = game.PhaseCommitting

	evs := diffEvents(nil, acc)
	assert.Equal(t, []string{"table_created", "player_joined"}, names(evs))
}

func TestDiffEvents_OpponentJoins(t *testing.T) {
	old := waitingAccount()
	acc := waitingAccount()
	acc.Opponent = "opponent"
	acc.State = game.PhaseCommitting

	evs := diffEvents(old, acc)
	require.Equal(t, []string{"player_joined"}, names(evs))
	assert.Equal(t, "opponent", evs[0].(*game.PlayerJoined).Opponent)
}

func TestDiffEvents_BothCommitments(t *testing.T) {
	old := waitingAccount()
	old.Opponent = "opponent"
	old.State = game.PhaseCommitting
	old.CreatorCommitment = []byte{1}

	acc := waitingAccount()
	acc.Opponent = "opponent"
	acc.State = game.PhaseCommitting
	acc.CreatorCommitment = []byte{1}
	acc.OpponentCommitment = []byte{2}
	acc.TurnDeadline = 1700000120

	evs := diffEvents(old, acc)
	require.Equal(t, []string{"deck_shuffling"}, names(evs))
	assert.Equal(t, int64(1700000120000), evs[0].(*game.DeckShuffling).CommitDeadline)
}

func TestDiffEvents_HandStarted(t *testing.T) {
	old := waitingAccount()
	old.Opponent = "opponent"
	old.State = game.PhaseCommitting

	acc := waitingAccount()
	acc.Opponent = "opponent"
	acc.State = game.PhaseActive
	acc.HandNumber = 1
	acc.CreatorHand = []byte{10, 7}   // dealer
	acc.OpponentHand = []byte{1, 9}   // player
	acc.CreatorTotal = 17
	acc.OpponentTotal = 20
	acc.CurrentTurn = game.RolePlayer
	acc.TurnDeadline = 1700000060

	evs := diffEvents(old, acc)
	require.Equal(t, []string{"hand_started"}, names(evs))

	hs := evs[0].(*game.HandStarted)
	assert.Equal(t, []int{1, 9}, hs.PlayerHand)
	assert.Equal(t, []int{10, 7}, hs.DealerHand)
	assert.Equal(t, 20, hs.PlayerTotal)
	assert.Equal(t, 17, hs.DealerTotal)
	assert.Equal(t, game.RolePlayer, hs.CurrentTurn)
}

func TestDiffEvents_CardDealt(t *testing.T) {
	old := waitingAccount()
	old.Opponent = "opponent"
	old.State = game.PhaseActive
	old.CreatorHand = []byte{10, 7}
	old.OpponentHand = []byte{5, 9}
	old.CurrentTurn = game.RolePlayer

	acc := waitingAccount()
	acc.Opponent = "opponent"
	acc.State = game.PhaseActive
	acc.CreatorHand = []byte{10, 7}
	acc.OpponentHand = []byte{5, 9, 8} // player drew an eight
	acc.OpponentTotal = 22
	acc.CurrentTurn = game.RolePlayer

	evs := diffEvents(old, acc)
	require.Equal(t, []string{"card_dealt"}, names(evs))

	cd := evs[0].(*game.CardDealt)
	assert.Equal(t, game.RolePlayer, cd.Role)
	assert.Equal(t, 8, cd.Card)
	assert.Equal(t, 22, cd.Total)
	assert.True(t, cd.Bust)
}

func TestDiffEvents_TurnChanged(t *testing.T) {
	old := waitingAccount()
	old.Opponent = "opponent"
	old.State = game.PhaseActive
	old.CurrentTurn = game.RolePlayer

	acc := waitingAccount()
	acc.Opponent = "opponent"
	acc.State = game.PhaseActive
	acc.CurrentTurn = game.RoleDealer
	acc.TurnDeadline = 1700000060

	evs := diffEvents(old, acc)
	require.Equal(t, []string{"turn_changed"}, names(evs))
	assert.Equal(t, game.RoleDealer, evs[0].(*game.TurnChanged).CurrentTurn)
}

func TestDiffEvents_Settled(t *testing.T) {
	base := func() (*TableAccount, *TableAccount) {
		old := waitingAccount()
		old.Opponent = "opponent"
		old.State = game.PhaseActive

		acc := waitingAccount()
		acc.Opponent = "opponent"
		acc.State = game.PhaseSettled
		return old, acc
	}

	tests := []struct {
		name          string
		creatorTotal  uint8 // dealer (creator declared DEALER)
		opponentTotal uint8 // player
		wantWinner    game.Role
		wantPush      bool
	}{
		{"Player bust", 17, 22, game.RoleDealer, false},
		{"Dealer bust", 25, 18, game.RolePlayer, false},
		{"Player higher", 17, 20, game.RolePlayer, false},
		{"Dealer higher", 19, 18, game.RoleDealer, false},
		{"Push", 18, 18, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			old, acc := base()
			acc.CreatorTotal = tt.creatorTotal
			acc.OpponentTotal = tt.opponentTotal

			evs := diffEvents(old, acc)
			require.Equal(t, []string{"hand_settled"}, names(evs))

			hs := evs[0].(*game.HandSettled)
			assert.Equal(t, tt.wantWinner, hs.Winner)
			assert.Equal(t, tt.wantPush, hs.Push)
			assert.Equal(t, game.ReasonPlay, hs.Reason)
		})
	}
}

func TestWatcher_Apply(t *testing.T) {
	pub := &capturePublisher{}
	w := NewWatcher(pub, cache.NewResilient(nil, cache.NewMemoryStore()))

	creator := fill(32, 0xAA)
	data := newAccountBuilder().
		u64(1).u64(100_000_000).raw(creator).u8(0).
		none().u8(0).i64(1700000000).vec(nil).u8(0).
		vec(nil).vec(nil).u8(0).u8(0).none().
		i64(1700000180).u32(0).
		none().none().none().none().u8(255).
		build()

	w.Apply(Notification{Account: "acct-1", Data: data, Slot: 100})

	// table_created rides the global channel with the account stamped in.
	require.Len(t, pub.global, 1)
	require.Empty(t, pub.table)
	tc := pub.global[0].(*game.TableCreated)
	assert.Equal(t, "acct-1", tc.TableID)

	// The same snapshot again produces no further events.
	w.Apply(Notification{Account: "acct-1", Data: data, Slot: 101})
	assert.Len(t, pub.global, 1)
	assert.Empty(t, pub.table)
}

func TestWatcher_Apply_DropsUndecodable(t *testing.T) {
	pub := &capturePublisher{}
	w := NewWatcher(pub, nil)

	w.Apply(Notification{Account: "acct-1", Data: fill(40, 0xFF), Slot: 100})

	assert.Empty(t, pub.global)
	assert.Empty(t, pub.table)

	w.mu.Lock()
	_, known := w.prev["acct-1"]
	w.mu.Unlock()
	assert.False(t, known, "undecodable payload must not become a snapshot")
}

func TestWatcher_Apply_ClosedAccount(t *testing.T) {
	pub := &capturePublisher{}
	w := NewWatcher(pub, nil)

	// Closing an account the watcher never saw is silent.
	w.Apply(Notification{Account: "ghost", Data: nil, Slot: 99})
	assert.Empty(t, pub.table)

	creator := fill(32, 0xAA)
	data := newAccountBuilder().
		u64(1).u64(100_000_000).raw(creator).u8(0).
		none().u8(0).i64(0).vec(nil).u8(0).
		vec(nil).vec(nil).u8(0).u8(0).none().
		i64(0).u32(0).
		none().none().none().none().u8(255).
		build()

	w.Apply(Notification{Account: "acct-1", Data: data, Slot: 100})
	w.Apply(Notification{Account: "acct-1", Data: nil, Slot: 101})

	require.Len(t, pub.table, 1)
	assert.Equal(t, "table_closed", pub.table[0].EventName())

	w.mu.Lock()
	_, known := w.prev["acct-1"]
	w.mu.Unlock()
	assert.False(t, known)
}
