package game

import (
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Default deadlines. JOIN matches the lobby countdown the frontend shows;
// TURN matches the on-chain program's 60 second turn window.
const (
	DEFAULT_JOIN_TIMEOUT   = 180 * time.Second
	DEFAULT_COMMIT_TIMEOUT = 120 * time.Second
	DEFAULT_TURN_TIMEOUT   = 60 * time.Second
	DEFAULT_RETAIN_FOR     = 300 * time.Second
)

// Config holds the per-phase deadlines.
type Config struct {
	JoinTimeout   time.Duration
	CommitTimeout time.Duration
	TurnTimeout   time.Duration
	RetainFor     time.Duration
}

func DefaultConfig() Config {
	return Config{
		JoinTimeout:   getEnvAsDuration("SOLJACK_JOIN_TIMEOUT", DEFAULT_JOIN_TIMEOUT),
		CommitTimeout: getEnvAsDuration("SOLJACK_COMMIT_TIMEOUT", DEFAULT_COMMIT_TIMEOUT),
		TurnTimeout:   getEnvAsDuration("SOLJACK_TURN_TIMEOUT", DEFAULT_TURN_TIMEOUT),
		RetainFor:     getEnvAsDuration("SOLJACK_RETAIN_FOR", DEFAULT_RETAIN_FOR),
	}
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if secs, err := strconv.Atoi(val); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}

// Publisher is the slice of the hub the manager needs.
type Publisher interface {
	PublishToTable(tableID string, ev Event)
	PublishGlobal(ev Event)
}

// Manager owns the set of live tables. Mutations are serialized per table:
// each operation (join, commit, reveal, hit, stand, deadline fire) runs
// under that table's mutex, so a timeout and a late action can never both
// apply. Distinct tables proceed concurrently. Broadcasts and the OnSettle
// callback run after the lock is released.
type Manager struct {
	hub Publisher
	cfg Config

	mu     sync.RWMutex
	tables map[string]*Table

	// OnSettle, when set, receives every terminal outcome. The server wires
	// it to the settlement archive and cache invalidation.
	OnSettle OnSettleFunc
}

func NewManager(hub Publisher, cfg Config) *Manager {
	return &Manager{
		hub:    hub,
		cfg:    cfg,
		tables: make(map[string]*Table),
	}
}

func (m *Manager) table(address string) (*Table, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[address]
	if !ok {
		return nil, ErrTableNotFound
	}
	return t, nil
}

// TableCount reports the number of live tables, for the health endpoint.
func (m *Manager) TableCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tables)
}

// Create registers a new WAITING table and returns its address.
func (m *Manager) Create(bet uint64, creator string, role Role) (string, error) {
	if !validBetAmount(bet) {
		return "", ErrInvalidBetAmount
	}
	if !role.Valid() {
		return "", ErrInvalidAction
	}
	if creator == "" {
		return "", ErrNotParticipant
	}

	now := time.Now()
	t := newTable(uuid.NewString(), bet, creator, role, now)

	t.mu.Lock()
	m.armDeadlineLocked(t, PhaseWaiting, m.cfg.JoinTimeout)
	t.mu.Unlock()

	m.mu.Lock()
	m.tables[t.Address] = t
	m.mu.Unlock()

	logrus.Infof("[TABLE] Created %s bet=%d creator=%s role=%s", t.Address, bet, creator, role)

	// Lobby watchers have no table to subscribe to yet.
	m.hub.PublishGlobal(&TableCreated{
		Meta:        Meta{TableID: t.Address},
		BetAmount:   bet,
		Creator:     creator,
		CreatorRole: role,
		OpenRole:    role.Complement(),
		State:       PhaseWaiting,
	})

	return t.Address, nil
}

// Join seats the opponent and moves the table to COMMITTING. The joiner's
// role is forced to the complement of the creator's declared role.
func (m *Manager) Join(address, opponent string) error {
	t, err := m.table(address)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.Phase != PhaseWaiting {
		t.mu.Unlock()
		return ErrInvalidPhase
	}
	if t.Opponent != "" {
		t.mu.Unlock()
		return ErrSessionFull
	}
	if opponent == "" || opponent == t.Creator {
		t.mu.Unlock()
		return ErrNotParticipant
	}

	t.Opponent = opponent
	t.Phase = PhaseCommitting
	m.armDeadlineLocked(t, PhaseCommitting, m.cfg.CommitTimeout)
	t.mu.Unlock()

	logrus.Infof("[TABLE] %s joined by %s", address, opponent)

	m.hub.PublishToTable(address, &PlayerJoined{
		Opponent: opponent,
		State:    PhaseCommitting,
	})
	return nil
}

// SubmitCommitment records a participant's commitment hash. Commitments
// are immutable: a second submission from the same participant fails.
func (m *Manager) SubmitCommitment(address, participant, commitment string) error {
	t, err := m.table(address)
	if err != nil {
		return err
	}

	var shuffling *DeckShuffling

	t.mu.Lock()
	if t.Phase != PhaseCommitting {
		t.mu.Unlock()
		return ErrInvalidPhase
	}
	if _, err := t.roleOf(participant); err != nil {
		t.mu.Unlock()
		return err
	}
	if _, ok := t.commitments[participant]; ok {
		t.mu.Unlock()
		return ErrAlreadyCommitted
	}
	if len(commitment) != 64 || !isHex(commitment) {
		t.mu.Unlock()
		return ErrInvalidSeed
	}

	t.commitments[participant] = commitment
	if len(t.commitments) == 2 {
		// Both sides are bound; the reveal stage gets a fresh deadline.
		m.armDeadlineLocked(t, PhaseCommitting, m.cfg.CommitTimeout)
		shuffling = &DeckShuffling{CommitDeadline: t.TurnDeadline.UnixMilli()}
	}
	t.mu.Unlock()

	logrus.Infof("[TABLE] %s commitment from %s", address, participant)

	if shuffling != nil {
		m.hub.PublishToTable(address, shuffling)
	}
	return nil
}

// RevealSeed validates a revealed seed against the participant's prior
// commitment. A hash mismatch is a fairness violation and forfeits the
// revealer. Once both seeds check out the deck is derived and dealt.
func (m *Manager) RevealSeed(address, participant, seed string) error {
	t, err := m.table(address)
	if err != nil {
		return err
	}

	var evs []Event
	var settlement *Settlement

	t.mu.Lock()
	if t.Phase != PhaseCommitting {
		t.mu.Unlock()
		return ErrInvalidPhase
	}
	role, roleErr := t.roleOf(participant)
	if roleErr != nil {
		t.mu.Unlock()
		return roleErr
	}
	if len(t.commitments) < 2 {
		// Reveals only open up once both sides have committed.
		t.mu.Unlock()
		return ErrInvalidPhase
	}
	if _, ok := t.seeds[participant]; ok {
		t.mu.Unlock()
		return ErrAlreadyCommitted
	}

	if !VerifyReveal(t.commitments[participant], seed) {
		// Adversarial reveal; the violator forfeits on the spot.
		evs, settlement = m.resolveLocked(t, role.Complement(), ReasonViolation)
		t.mu.Unlock()
		logrus.Warnf("[FAIR] %s reveal mismatch from %s, forfeited", address, participant)
		m.finish(address, evs, settlement)
		return ErrFairnessViolation
	}

	t.seeds[participant] = seed

	if len(t.seeds) == 2 {
		evs, err = m.startHandLocked(t)
		if err != nil {
			t.mu.Unlock()
			return err
		}
	}
	t.mu.Unlock()

	logrus.Infof("[TABLE] %s seed revealed by %s", address, participant)
	m.finish(address, evs, nil)
	return nil
}

// startHandLocked derives the shuffled deck from both seeds, deals the
// initial hands and grants the first turn to the PLAYER seat. Caller
// holds t.mu.
func (m *Manager) startHandLocked(t *Table) ([]Event, error) {
	deck, err := DeriveShuffle(t.seeds[t.Creator], t.seeds[t.Opponent])
	if err != nil {
		return nil, ErrInvalidSeed
	}
	t.deck = deck
	t.deckIndex = 0

	for i := 0; i < 2; i++ {
		if _, err := t.dealCard(RolePlayer); err != nil {
			return nil, err
		}
	}
	for i := 0; i < 2; i++ {
		if _, err := t.dealCard(RoleDealer); err != nil {
			return nil, err
		}
	}

	t.Phase = PhaseActive
	t.CurrentTurn = RolePlayer
	t.HandNumber++
	m.armDeadlineLocked(t, PhaseActive, m.cfg.TurnTimeout)

	playerTotal := t.totals[RolePlayer]
	dealerTotal := t.totals[RoleDealer]

	logrus.Infof("[TABLE] %s hand %d started, player=%d dealer=%d", t.Address, t.HandNumber, playerTotal, dealerTotal)

	return []Event{&HandStarted{
		HandNumber:   t.HandNumber,
		PlayerHand:   ranks(t.hands[RolePlayer]),
		DealerHand:   ranks(t.hands[RoleDealer]),
		PlayerTotal:  playerTotal,
		DealerTotal:  dealerTotal,
		CurrentTurn:  RolePlayer,
		TurnDeadline: t.TurnDeadline.UnixMilli(),
	}}, nil
}

// Act applies a hit or stand for the turn holder and returns the updated
// public view.
func (m *Manager) Act(address, participant string, action Action) (TableView, error) {
	t, err := m.table(address)
	if err != nil {
		return TableView{}, err
	}

	var evs []Event
	var settlement *Settlement

	t.mu.Lock()
	if t.Phase != PhaseActive {
		t.mu.Unlock()
		return TableView{}, ErrInvalidPhase
	}
	role, roleErr := t.roleOf(participant)
	if roleErr != nil {
		t.mu.Unlock()
		return TableView{}, roleErr
	}
	if role != t.CurrentTurn {
		t.mu.Unlock()
		return TableView{}, ErrNotYourTurn
	}

	switch action {
	case ActionHit:
		evs, settlement, err = m.hitLocked(t, role)
		if err != nil {
			t.mu.Unlock()
			return TableView{}, err
		}
	case ActionStand:
		evs, settlement = m.standLocked(t, role)
	default:
		t.mu.Unlock()
		return TableView{}, ErrInvalidAction
	}
	view := t.view()
	t.mu.Unlock()

	m.finish(address, evs, settlement)
	return view, nil
}

// hitLocked deals one card to the turn holder. A bust settles the hand
// immediately against the busted side; otherwise the holder keeps the turn
// under a fresh deadline. Caller holds t.mu.
func (m *Manager) hitLocked(t *Table, role Role) ([]Event, *Settlement, error) {
	card, err := t.dealCard(role)
	if err != nil {
		return nil, nil, err
	}
	total, soft := t.HandTotalOf(role)
	bust := total > 21

	evs := []Event{&CardDealt{
		Role:  role,
		Card:  card.Rank(),
		Total: total,
		Soft:  soft,
		Bust:  bust,
	}}

	if bust {
		more, settlement := m.resolveLocked(t, role.Complement(), ReasonPlay)
		return append(evs, more...), settlement, nil
	}

	m.armDeadlineLocked(t, PhaseActive, m.cfg.TurnTimeout)

	evs = append(evs, &TurnChanged{
		CurrentTurn:  role,
		TurnDeadline: t.TurnDeadline.UnixMilli(),
	})
	return evs, nil, nil
}

// standLocked ends the holder's turn: the PLAYER hands over to the DEALER,
// the DEALER's stand settles the hand by comparing totals. Caller holds t.mu.
func (m *Manager) standLocked(t *Table, role Role) ([]Event, *Settlement) {
	if role == RolePlayer {
		t.CurrentTurn = RoleDealer
		m.armDeadlineLocked(t, PhaseActive, m.cfg.TurnTimeout)

		return []Event{&TurnChanged{
			CurrentTurn:  RoleDealer,
			TurnDeadline: t.TurnDeadline.UnixMilli(),
		}}, nil
	}

	playerTotal := t.totals[RolePlayer]
	dealerTotal := t.totals[RoleDealer]
	switch {
	case playerTotal == dealerTotal:
		return m.resolveLocked(t, "", ReasonPlay)
	case playerTotal > dealerTotal:
		return m.resolveLocked(t, RolePlayer, ReasonPlay)
	default:
		return m.resolveLocked(t, RoleDealer, ReasonPlay)
	}
}

// resolveLocked moves the table to its terminal phase and builds the
// settlement events. From ACTIVE the terminal phase is SETTLED, otherwise
// FORFEITED. An empty winner with reason "play" is a push; with any other
// reason it is a void. Caller holds t.mu.
func (m *Manager) resolveLocked(t *Table, winner Role, reason string) ([]Event, *Settlement) {
	phase := PhaseForfeited
	if t.Phase == PhaseActive {
		phase = PhaseSettled
	}

	push := winner == "" && reason == ReasonPlay
	void := winner == "" && reason != ReasonPlay

	t.Phase = phase
	t.CurrentTurn = ""
	t.Outcome = &Outcome{Winner: winner, Push: push, Void: void, Reason: reason}
	m.armDeadlineLocked(t, phase, m.cfg.RetainFor)

	settlement := &Settlement{
		TableAddress: t.Address,
		BetAmount:    t.BetAmount,
		Creator:      t.Creator,
		Opponent:     t.Opponent,
		CreatorRole:  t.CreatorRole,
		Winner:       winner,
		Push:         push,
		Void:         void,
		Reason:       reason,
		PlayerTotal:  t.totals[RolePlayer],
		DealerTotal:  t.totals[RoleDealer],
		SettledAt:    time.Now(),
	}
	if winner != "" {
		settlement.WinnerIdentity = t.identityOf(winner)
	}

	logrus.Infof("[TABLE] %s resolved phase=%s winner=%q reason=%s", t.Address, phase, winner, reason)

	return []Event{&HandSettled{
		Winner:      winner,
		Push:        push,
		Void:        void,
		Reason:      reason,
		PlayerTotal: settlement.PlayerTotal,
		DealerTotal: settlement.DealerTotal,
		BetAmount:   t.BetAmount,
	}}, settlement
}

// finish publishes pending events and runs the settle callback, outside
// the table lock.
func (m *Manager) finish(address string, evs []Event, settlement *Settlement) {
	for _, ev := range evs {
		m.hub.PublishToTable(address, ev)
	}
	if settlement != nil && m.OnSettle != nil {
		m.OnSettle(*settlement)
	}
}

// Snapshot returns the public view of one table.
func (m *Manager) Snapshot(address string) (TableView, error) {
	t, err := m.table(address)
	if err != nil {
		return TableView{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.view(), nil
}

// OpenTables lists WAITING tables, optionally filtered by bet amount
// (0 means no filter).
func (m *Manager) OpenTables(betAmount uint64) []OpenTableView {
	m.mu.RLock()
	tables := make([]*Table, 0, len(m.tables))
	for _, t := range m.tables {
		tables = append(tables, t)
	}
	m.mu.RUnlock()

	now := time.Now()
	out := make([]OpenTableView, 0)
	for _, t := range tables {
		t.mu.Lock()
		if t.Phase == PhaseWaiting && (betAmount == 0 || t.BetAmount == betAmount) {
			out = append(out, t.openView(now))
		}
		t.mu.Unlock()
	}
	return out
}

// armDeadlineLocked sets the table's deadline for the given phase and
// schedules the guard timer. The fired closure re-checks phase and serial
// under the lock, so a superseded timer is a no-op. Caller holds t.mu.
func (m *Manager) armDeadlineLocked(t *Table, phase Phase, d time.Duration) {
	t.TurnDeadline = time.Now().Add(d)
	t.timerSerial++
	serial := t.timerSerial
	if t.timer != nil {
		t.timer.Stop()
	}
	address := t.Address
	t.timer = time.AfterFunc(d, func() {
		m.onDeadline(address, phase, serial)
	})
}

// onDeadline applies the expiry for the phase the timer was guarding.
// It serializes through the same per-table lock as user actions, so a
// timeout and a late-arriving action can never both apply.
func (m *Manager) onDeadline(address string, phase Phase, serial int) {
	t, err := m.table(address)
	if err != nil {
		return
	}

	var evs []Event
	var settlement *Settlement
	var outcome *Outcome
	remove := false
	closeEvent := false

	t.mu.Lock()
	if t.Phase != phase || t.timerSerial != serial {
		// Superseded by a transition or a re-arm.
		t.mu.Unlock()
		return
	}

	switch phase {
	case PhaseWaiting:
		// Nobody joined; void the table outright.
		t.Phase = PhaseForfeited
		t.Outcome = &Outcome{Void: true, Reason: ReasonTimeout}
		t.closed = true
		remove = true
		closeEvent = true

	case PhaseCommitting:
		evs, settlement = m.expireCommitLocked(t)

	case PhaseActive:
		// Deadline lapsed with no action: implicit stand.
		holder := t.CurrentTurn
		logrus.Infof("[TABLE] %s turn deadline lapsed, implicit stand for %s", address, holder)
		evs, settlement = m.standLocked(t, holder)

	case PhaseSettled, PhaseForfeited:
		// Retention elapsed; archive the table.
		remove = true
		closeEvent = !t.closed
		t.closed = true
	}
	outcome = t.Outcome
	t.mu.Unlock()

	if remove {
		m.mu.Lock()
		delete(m.tables, address)
		m.mu.Unlock()
	}

	m.finish(address, evs, settlement)

	if closeEvent {
		ev := &TableClosed{Reason: ReasonSettled}
		if outcome != nil {
			ev.Winner = outcome.Winner
			if outcome.Void {
				ev.Reason = ReasonVoid
			} else if outcome.Reason != ReasonPlay {
				ev.Reason = outcome.Reason
			}
		}
		m.hub.PublishToTable(address, ev)
		logrus.Infof("[TABLE] %s closed (%s)", address, ev.Reason)
	}
}

// expireCommitLocked resolves a lapsed commit/reveal deadline. The side
// that completed the current stage wins by forfeit; if neither side did,
// the table is voided rather than picking a default loser. Caller holds t.mu.
func (m *Manager) expireCommitLocked(t *Table) ([]Event, *Settlement) {
	revealStage := len(t.commitments) == 2

	compliant := func(identity string) bool {
		if revealStage {
			_, ok := t.seeds[identity]
			return ok
		}
		_, ok := t.commitments[identity]
		return ok
	}

	creatorOK := compliant(t.Creator)
	opponentOK := compliant(t.Opponent)

	switch {
	case creatorOK && !opponentOK:
		return m.resolveLocked(t, t.CreatorRole, ReasonTimeout)
	case opponentOK && !creatorOK:
		return m.resolveLocked(t, t.CreatorRole.Complement(), ReasonTimeout)
	default:
		// Neither side acted in time: void, not a default loser.
		return m.resolveLocked(t, "", ReasonTimeout)
	}
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
