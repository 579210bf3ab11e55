package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"soljack/internal/cache"
	"soljack/internal/game"
)

// Notification is one account-change message from the ledger RPC layer.
type Notification struct {
	Account    string
	Data       []byte
	Slot       uint64
	Confidence string
}

// Watcher translates raw account changes into domain events. It keeps the
// previous decoded snapshot per account and diffs against it; undecodable
// payloads are logged and dropped so one bad notification never stalls the
// stream.
type Watcher struct {
	hub   game.Publisher
	store *cache.Resilient

	mu   sync.Mutex
	prev map[string]*TableAccount
}

func NewWatcher(hub game.Publisher, store *cache.Resilient) *Watcher {
	return &Watcher{
		hub:   hub,
		store: store,
		prev:  make(map[string]*TableAccount),
	}
}

// Run consumes notifications until the context ends or the channel closes.
func (w *Watcher) Run(ctx context.Context, ch <-chan Notification) {
	logrus.Info("[LEDGER] Watcher started")
	for {
		select {
		case <-ctx.Done():
			logrus.Info("[LEDGER] Watcher stopped")
			return
		case n, ok := <-ch:
			if !ok {
				logrus.Info("[LEDGER] Notification stream closed")
				return
			}
			w.Apply(n)
		}
	}
}

// Apply processes a single notification.
func (w *Watcher) Apply(n Notification) {
	// A closed account arrives with empty data.
	if len(n.Data) == 0 {
		w.closeTable(n.Account)
		return
	}

	acc, err := DecodeTableAccount(n.Data)
	if err != nil {
		logrus.Warnf("[LEDGER] Dropping undecodable update for %s: %v", n.Account, err)
		return
	}

	w.mu.Lock()
	old := w.prev[n.Account]
	w.prev[n.Account] = acc
	w.mu.Unlock()

	for _, ev := range diffEvents(old, acc) {
		if _, global := ev.(*game.TableCreated); global {
			w.hub.PublishGlobal(stamp(ev, n.Account))
		} else {
			w.hub.PublishToTable(n.Account, ev)
		}
	}

	w.invalidate(n.Account, acc.BetAmount)
}

func stamp(ev game.Event, tableID string) game.Event {
	// The hub fills Meta on encode; TableCreated goes out globally so the
	// table id has to ride in the event itself.
	if tc, ok := ev.(*game.TableCreated); ok {
		tc.TableID = tableID
	}
	return ev
}

func (w *Watcher) closeTable(account string) {
	w.mu.Lock()
	old, known := w.prev[account]
	delete(w.prev, account)
	w.mu.Unlock()

	if !known {
		return
	}
	w.hub.PublishToTable(account, &game.TableClosed{Reason: game.ReasonSettled})
	w.invalidate(account, old.BetAmount)
}

func (w *Watcher) invalidate(account string, bet uint64) {
	if w.store == nil {
		return
	}
	ctx := context.Background()
	w.store.Delete(ctx, "platform:stats")
	w.store.Delete(ctx, "tables:open")
	w.store.Delete(ctx, fmt.Sprintf("tables:open:%d", bet))
	w.store.Delete(ctx, "table:"+account)
}

// diffEvents derives the domain events implied by the change from old to
// new. A nil old means first sight of the account.
func diffEvents(old, acc *TableAccount) []game.Event {
	var evs []game.Event

	if old == nil {
		evs = append(evs, &game.TableCreated{
			BetAmount:   acc.BetAmount,
			Creator:     acc.Creator,
			CreatorRole: acc.CreatorRole,
			OpenRole:    acc.CreatorRole.Complement(),
			State:       acc.State,
		})
		old = &TableAccount{State: game.PhaseWaiting, CreatorRole: acc.CreatorRole}
	}

	if old.Opponent == "" && acc.Opponent != "" {
		evs = append(evs, &game.PlayerJoined{
			Opponent: acc.Opponent,
			State:    acc.State,
		})
	}

	bothCommitted := acc.CreatorCommitment != nil && acc.OpponentCommitment != nil
	hadBoth := old.CreatorCommitment != nil && old.OpponentCommitment != nil
	if bothCommitted && !hadBoth && acc.State == game.PhaseCommitting {
		evs = append(evs, &game.DeckShuffling{
			CommitDeadline: acc.TurnDeadline * 1000,
		})
	}

	playerHand, dealerHand := handsByRole(acc)

	if acc.State == game.PhaseActive && old.State != game.PhaseActive {
		playerTotal, dealerTotal := totalsByRole(acc)
		evs = append(evs, &game.HandStarted{
			HandNumber:   int(acc.HandNumber),
			PlayerHand:   toInts(playerHand),
			DealerHand:   toInts(dealerHand),
			PlayerTotal:  playerTotal,
			DealerTotal:  dealerTotal,
			CurrentTurn:  acc.CurrentTurn,
			TurnDeadline: acc.TurnDeadline * 1000,
		})
	} else if acc.State == game.PhaseActive {
		evs = append(evs, cardEvents(old, acc)...)
	}

	if acc.State == game.PhaseActive && old.State == game.PhaseActive &&
		acc.CurrentTurn != old.CurrentTurn && acc.CurrentTurn != "" {
		evs = append(evs, &game.TurnChanged{
			CurrentTurn:  acc.CurrentTurn,
			TurnDeadline: acc.TurnDeadline * 1000,
		})
	}

	if acc.State == game.PhaseSettled && old.State != game.PhaseSettled {
		evs = append(evs, settledEvent(acc))
	}

	return evs
}

// cardEvents emits one card_dealt per newly appeared card on either hand.
func cardEvents(old, acc *TableAccount) []game.Event {
	var evs []game.Event
	dealerRole, playerRole := game.RoleDealer, game.RolePlayer

	creatorIsDealer := acc.CreatorRole == game.RoleDealer
	appendNew := func(oldHand, newHand []byte, role game.Role, total uint8) {
		for i := len(oldHand); i < len(newHand); i++ {
			evs = append(evs, &game.CardDealt{
				Role:  role,
				Card:  int(newHand[i]),
				Total: int(total),
				Bust:  total > 21,
			})
		}
	}

	if creatorIsDealer {
		appendNew(old.CreatorHand, acc.CreatorHand, dealerRole, acc.CreatorTotal)
		appendNew(old.OpponentHand, acc.OpponentHand, playerRole, acc.OpponentTotal)
	} else {
		appendNew(old.CreatorHand, acc.CreatorHand, playerRole, acc.CreatorTotal)
		appendNew(old.OpponentHand, acc.OpponentHand, dealerRole, acc.OpponentTotal)
	}
	return evs
}

func settledEvent(acc *TableAccount) game.Event {
	playerTotal, dealerTotal := totalsByRole(acc)

	ev := &game.HandSettled{
		Reason:      game.ReasonPlay,
		PlayerTotal: playerTotal,
		DealerTotal: dealerTotal,
		BetAmount:   acc.BetAmount,
	}
	switch {
	case playerTotal > 21:
		ev.Winner = game.RoleDealer
	case dealerTotal > 21:
		ev.Winner = game.RolePlayer
	case playerTotal > dealerTotal:
		ev.Winner = game.RolePlayer
	case dealerTotal > playerTotal:
		ev.Winner = game.RoleDealer
	default:
		ev.Push = true
	}
	return ev
}

func handsByRole(acc *TableAccount) (player, dealer []byte) {
	if acc.CreatorRole == game.RoleDealer {
		return acc.OpponentHand, acc.CreatorHand
	}
	return acc.CreatorHand, acc.OpponentHand
}

func totalsByRole(acc *TableAccount) (player, dealer int) {
	if acc.CreatorRole == game.RoleDealer {
		return int(acc.OpponentTotal), int(acc.CreatorTotal)
	}
	return int(acc.CreatorTotal), int(acc.OpponentTotal)
}

func toInts(b []byte) []int {
	out := make([]int, len(b))
	for i, v := range b {
		out[i] = int(v)
	}
	return out
}
