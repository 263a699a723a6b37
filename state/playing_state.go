package state

import (
	"fmt"
	"math"

	"github.com/wfunc/cardduel/catalog"
	"github.com/wfunc/cardduel/logger"
	"github.com/wfunc/cardduel/models"
	"github.com/wfunc/cardduel/network"
)

// PlayingState 对局进行状态: simultaneous guessing, one turn at a time.
type PlayingState struct {
	RoomStateBase
	Turn    int
	guesses map[string]catalog.Item // current turn, by participant id

	turnTimerID    int64
	newTurnTimerID int64
	finished       bool
}

// NewPlayingState 创建新的对局状态
func NewPlayingState(room RoomContext) *PlayingState {
	return &PlayingState{
		RoomStateBase: RoomStateBase{
			ID:   StatePlaying,
			Room: room,
		},
	}
}

// OnEnter 进入对局状态
func (s *PlayingState) OnEnter() {
	s.Turn = 1
	s.guesses = make(map[string]catalog.Item)

	settings := s.Room.GetSettings()
	logger.Log.Infof("房间 %s 进入对局状态, maxTurns=%d hints=%v", s.Room.GetID(), settings.MaxTurns, settings.HintsEnabled)

	s.Room.Broadcast(network.GameStart{
		RoomCode: s.Room.GetID(),
		Settings: network.SettingsView{
			MaxTurns:     settings.MaxTurns,
			HintsEnabled: settings.HintsEnabled,
		},
	})
}

// OnExit 退出对局状态
func (s *PlayingState) OnExit() {
	s.cancelTimers()
}

// HandleAction handles guesses and timer expiries.
func (s *PlayingState) HandleAction(player Player, action Action) error {
	if s.finished {
		return nil
	}

	switch a := action.(type) {
	case SubmitGuess:
		if player == nil {
			return nil
		}
		s.handleGuess(player, a.ItemName)
	case TimerFired:
		s.handleTimer(a.ID)
	}
	return nil
}

// Guessed reports whether the participant has committed a guess this turn.
func (s *PlayingState) Guessed(playerID string) bool {
	_, ok := s.guesses[playerID]
	return ok
}

func (s *PlayingState) handleGuess(player Player, name string) {
	if s.Guessed(player.GetID()) {
		logger.Log.Debugf("房间 %s: %s already guessed in turn %d", s.Room.GetID(), player.GetID(), s.Turn)
		return
	}

	item, ok := s.Room.GetCatalog().Lookup(name)
	if !ok {
		s.Room.Send(player.GetID(), network.Error{Message: fmt.Sprintf("Unknown item: %s", name)})
		return
	}

	s.announceTurn()
	s.guesses[player.GetID()] = item
	if len(s.guesses) >= len(s.Room.GetPlayers()) {
		s.resolve()
		return
	}
	s.firstGuess(player, item)
}

// firstGuess answers the first committer privately, tells the opponent and arms the turn timer.
func (s *PlayingState) firstGuess(player Player, item catalog.Item) {
	hints := s.hints()
	fb := catalog.Compare(item, s.Room.GetSecret())

	s.Room.Send(player.GetID(), network.TurnUpdate{
		Turn:           s.Turn,
		SelfFeedback:   &fb,
		OpponentStatus: network.OpponentWaiting,
		Hints:          hints,
	})
	for _, p := range s.Room.GetPlayers() {
		if p.GetID() == player.GetID() {
			continue
		}
		s.Room.Send(p.GetID(), network.TurnUpdate{
			Turn:           s.Turn,
			OpponentStatus: network.OpponentHasGuessed,
			Hints:          hints,
		})
	}

	timeout := s.Room.GetTiming().TurnTimeout
	s.turnTimerID = s.Room.Schedule(timeout)
	s.Room.Broadcast(network.TimerStarted{DurationSeconds: int(math.Round(timeout.Seconds()))})
}

func (s *PlayingState) handleTimer(id int64) {
	switch {
	case id != 0 && id == s.turnTimerID:
		s.turnTimerID = 0
		s.autoGuess()
		s.resolve()
	case id != 0 && id == s.newTurnTimerID:
		s.newTurnTimerID = 0
		s.Room.Broadcast(network.NewTurn{Turn: s.Turn})
	default:
		logger.Log.Debugf("房间 %s: ignoring stale timer %d", s.Room.GetID(), id)
	}
}

// announceTurn sends newTurn early when a guess lands inside the new-turn delay,
// so every turn is announced before its first update.
func (s *PlayingState) announceTurn() {
	if s.newTurnTimerID == 0 {
		return
	}
	s.Room.CancelTimer(s.newTurnTimerID)
	s.newTurnTimerID = 0
	s.Room.Broadcast(network.NewTurn{Turn: s.Turn})
}

// autoGuess fills every open seat with a random item.
func (s *PlayingState) autoGuess() {
	for _, p := range s.Room.GetPlayers() {
		if s.Guessed(p.GetID()) {
			continue
		}
		item := s.Room.GetCatalog().Random()
		s.guesses[p.GetID()] = item
		s.Room.GetObserver().IncAutoGuesses()
		s.Room.Send(p.GetID(), network.AutoGuessed{ItemName: item.Name})
		logger.Log.Infof("房间 %s: turn %d timed out, auto-guessed %s for %s", s.Room.GetID(), s.Turn, item.Name, p.GetID())
	}
}

// resolve closes the current turn. Both seats have a guess when it runs.
func (s *PlayingState) resolve() {
	if s.turnTimerID != 0 {
		s.Room.CancelTimer(s.turnTimerID)
		s.turnTimerID = 0
	}

	players := s.Room.GetPlayers()
	secret := s.Room.GetSecret()
	hints := s.hints()

	feedback := make(map[string]catalog.Feedback, len(players))
	for _, p := range players {
		feedback[p.GetID()] = catalog.Compare(s.guesses[p.GetID()], secret)
	}

	winners := make([]Player, 0, len(players))
	for _, p := range players {
		self := feedback[p.GetID()]
		update := network.TurnUpdate{Turn: s.Turn, SelfFeedback: &self, Hints: hints}
		if opp := s.opponent(players, p); opp != nil {
			of := feedback[opp.GetID()]
			update.OpponentFeedback = &of
		}
		s.Room.Send(p.GetID(), update)
		if self.IsWin {
			winners = append(winners, p)
		}
	}
	s.Room.GetObserver().IncTurnsResolved()

	switch {
	case len(winners) == len(players):
		s.finish(models.OutcomeDraw, nil)
	case len(winners) == 1:
		s.finish(models.OutcomeWin, winners[0])
	case s.Turn >= s.Room.GetSettings().MaxTurns:
		s.finish(models.OutcomeExhausted, nil)
	default:
		s.Turn++
		s.guesses = make(map[string]catalog.Item)
		s.newTurnTimerID = s.Room.Schedule(s.Room.GetTiming().NewTurnDelay)
	}
}

func (s *PlayingState) finish(outcome models.Outcome, winner Player) {
	s.finished = true
	s.cancelTimers()

	players := s.Room.GetPlayers()
	secret := s.Room.GetSecret()
	result := Result{
		Outcome: outcome,
		Turn:    s.Turn,
		Guesses: make(map[string]string, len(players)),
	}
	if winner != nil {
		result.WinnerID = winner.GetID()
	}

	for _, p := range players {
		view := network.GameResult{
			Draw: outcome == models.OutcomeDraw,
			Turn: s.Turn,
		}
		if winner != nil {
			w := network.WinnerOpponent
			if winner.GetID() == p.GetID() {
				w = network.WinnerSelf
			}
			view.Winner = &w
		}
		// loss 只表示回合用尽; 对手获胜由 winner 表达
		view.Loss = outcome == models.OutcomeExhausted

		if it, ok := s.guesses[p.GetID()]; ok {
			self := it
			view.SelfItem = &self
			result.Guesses[p.GetID()] = it.Name
		}
		if opp := s.opponent(players, p); opp != nil {
			if it, ok := s.guesses[opp.GetID()]; ok {
				o := it
				view.OpponentItem = &o
			}
		}
		s.Room.Send(p.GetID(), network.GameOver{Result: view, SecretItem: secret})
	}

	logger.Log.Infof("房间 %s 对局结束: outcome=%s turn=%d secret=%s", s.Room.GetID(), outcome, s.Turn, secret.Name)
	s.Room.Finish(result)
}

func (s *PlayingState) hints() []catalog.Hint {
	if !s.Room.GetSettings().HintsEnabled {
		return []catalog.Hint{}
	}
	return catalog.Hints(s.Room.GetSecret(), s.Turn)
}

func (s *PlayingState) cancelTimers() {
	if s.turnTimerID != 0 {
		s.Room.CancelTimer(s.turnTimerID)
		s.turnTimerID = 0
	}
	if s.newTurnTimerID != 0 {
		s.Room.CancelTimer(s.newTurnTimerID)
		s.newTurnTimerID = 0
	}
}

func (s *PlayingState) opponent(players []Player, p Player) Player {
	for _, other := range players {
		if other.GetID() != p.GetID() {
			return other
		}
	}
	return nil
}
