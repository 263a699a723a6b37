package network

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wfunc/cardduel/catalog"
)

// 客户端 -> 服务器
const (
	MsgTypeJoin        = "join"
	MsgTypeToggleReady = "toggleReady"
	MsgTypeGuess       = "guess"
)

// 服务器 -> 客户端
const (
	MsgTypeLobbyUpdate          = "lobbyUpdate"
	MsgTypeGameStart            = "gameStart"
	MsgTypeTurnUpdate           = "turnUpdate"
	MsgTypeTimerStarted         = "timerStarted"
	MsgTypeAutoGuessed          = "autoGuessed"
	MsgTypeNewTurn              = "newTurn"
	MsgTypeGameOver             = "gameOver"
	MsgTypeOpponentDisconnected = "opponentDisconnected"
	MsgTypeHostDisconnected     = "hostDisconnected"
	MsgTypeError                = "error"
)

var (
	ErrUnknownType = errors.New("unknown message type")
	ErrMissingType = errors.New("missing message type")
)

// --- inbound ---

// Command is a decoded client message. The concrete types are Join, ToggleReady,
// Guess and Malformed.
type Command interface {
	CommandType() string
}

type Join struct {
	RoomCode string
}

type ToggleReady struct{}

type Guess struct {
	ItemName string
}

// Malformed carries a frame that could not be decoded into any other command.
type Malformed struct {
	Raw []byte
	Err error
}

func (Join) CommandType() string        { return MsgTypeJoin }
func (ToggleReady) CommandType() string { return MsgTypeToggleReady }
func (Guess) CommandType() string       { return MsgTypeGuess }
func (Malformed) CommandType() string   { return "malformed" }

type inboundFrame struct {
	Type      string `json:"type"`
	RoomCode  string `json:"roomCode"`
	GameID    string `json:"gameId"` // legacy name for roomCode
	ItemName  string `json:"itemName"`
	GuessName string `json:"guessName"` // legacy name for itemName
}

// Decode never fails; undecodable frames become Malformed.
func Decode(data []byte) Command {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return Malformed{Raw: data, Err: err}
	}

	switch f.Type {
	case MsgTypeJoin:
		code := f.RoomCode
		if code == "" {
			code = f.GameID
		}
		return Join{RoomCode: code}
	case MsgTypeToggleReady:
		return ToggleReady{}
	case MsgTypeGuess:
		name := f.ItemName
		if name == "" {
			name = f.GuessName
		}
		return Guess{ItemName: name}
	case "":
		return Malformed{Raw: data, Err: ErrMissingType}
	default:
		return Malformed{Raw: data, Err: fmt.Errorf("%w: %q", ErrUnknownType, f.Type)}
	}
}

// EncodeCommand is used by clients.
func EncodeCommand(cmd Command) ([]byte, error) {
	f := inboundFrame{Type: cmd.CommandType()}
	switch c := cmd.(type) {
	case Join:
		f.RoomCode = c.RoomCode
	case Guess:
		f.ItemName = c.ItemName
	case ToggleReady:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, cmd.CommandType())
	}
	return json.Marshal(f)
}

// --- outbound ---

// Event is a server message. Encode adds the "type" tag.
type Event interface {
	EventType() string
}

// Participant is one roster entry of a lobby update.
type Participant struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Role    string `json:"role"`
	IsReady bool   `json:"isReady"`
}

type SettingsView struct {
	MaxTurns     int  `json:"maxTurns"`
	HintsEnabled bool `json:"hintsEnabled"`
}

type OpponentStatus string

const (
	OpponentWaiting    OpponentStatus = "waiting"
	OpponentHasGuessed OpponentStatus = "hasGuessed"
)

const (
	WinnerSelf     = "self"
	WinnerOpponent = "opponent"
)

type LobbyUpdate struct {
	RoomCode     string        `json:"roomCode"`
	Participants []Participant `json:"participants"`
	SelfID       string        `json:"selfId"`
}

type GameStart struct {
	RoomCode string       `json:"roomCode"`
	Settings SettingsView `json:"settings"`
}

// TurnUpdate carries either the opponent's feedback (turn resolved) or a status
// placeholder while the turn is still open.
type TurnUpdate struct {
	Turn             int               `json:"turn"`
	SelfFeedback     *catalog.Feedback `json:"selfFeedback"`
	OpponentFeedback *catalog.Feedback `json:"opponentFeedback,omitempty"`
	OpponentStatus   OpponentStatus    `json:"opponentStatus,omitempty"`
	Hints            []catalog.Hint    `json:"hints"`
}

type TimerStarted struct {
	DurationSeconds int `json:"durationSeconds"`
}

type AutoGuessed struct {
	ItemName string `json:"itemName"`
}

type NewTurn struct {
	Turn int `json:"turn"`
}

// GameResult is relative to the receiving participant. Winner is nil unless exactly
// one participant won.
type GameResult struct {
	Winner       *string       `json:"winner"`
	Draw         bool          `json:"draw"`
	Loss         bool          `json:"loss"`
	Turn         int           `json:"turn"`
	SelfItem     *catalog.Item `json:"selfItem,omitempty"`
	OpponentItem *catalog.Item `json:"opponentItem,omitempty"`
}

type GameOver struct {
	Result     GameResult   `json:"result"`
	SecretItem catalog.Item `json:"secretItem"`
}

type OpponentDisconnected struct{}

type HostDisconnected struct {
	Message string `json:"message"`
}

type Error struct {
	Message string `json:"message"`
}

func (LobbyUpdate) EventType() string          { return MsgTypeLobbyUpdate }
func (GameStart) EventType() string            { return MsgTypeGameStart }
func (TurnUpdate) EventType() string           { return MsgTypeTurnUpdate }
func (TimerStarted) EventType() string         { return MsgTypeTimerStarted }
func (AutoGuessed) EventType() string          { return MsgTypeAutoGuessed }
func (NewTurn) EventType() string              { return MsgTypeNewTurn }
func (GameOver) EventType() string             { return MsgTypeGameOver }
func (OpponentDisconnected) EventType() string { return MsgTypeOpponentDisconnected }
func (HostDisconnected) EventType() string     { return MsgTypeHostDisconnected }
func (Error) EventType() string                { return MsgTypeError }

// Encode serializes ev as a flat JSON object tagged with "type".
func Encode(ev Event) ([]byte, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}

	tag, err := json.Marshal(ev.EventType())
	if err != nil {
		return nil, err
	}
	fields["type"] = tag

	return json.Marshal(fields)
}

// DecodeEvent is the client-side inverse of Encode.
func DecodeEvent(data []byte) (Event, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}

	var ev Event
	switch head.Type {
	case MsgTypeLobbyUpdate:
		ev = &LobbyUpdate{}
	case MsgTypeGameStart:
		ev = &GameStart{}
	case MsgTypeTurnUpdate:
		ev = &TurnUpdate{}
	case MsgTypeTimerStarted:
		ev = &TimerStarted{}
	case MsgTypeAutoGuessed:
		ev = &AutoGuessed{}
	case MsgTypeNewTurn:
		ev = &NewTurn{}
	case MsgTypeGameOver:
		ev = &GameOver{}
	case MsgTypeOpponentDisconnected:
		return OpponentDisconnected{}, nil
	case MsgTypeHostDisconnected:
		ev = &HostDisconnected{}
	case MsgTypeError:
		ev = &Error{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, head.Type)
	}

	if err := json.Unmarshal(data, ev); err != nil {
		return nil, err
	}
	return deref(ev), nil
}

func deref(ev Event) Event {
	switch e := ev.(type) {
	case *LobbyUpdate:
		return *e
	case *GameStart:
		return *e
	case *TurnUpdate:
		return *e
	case *TimerStarted:
		return *e
	case *AutoGuessed:
		return *e
	case *NewTurn:
		return *e
	case *GameOver:
		return *e
	case *HostDisconnected:
		return *e
	case *Error:
		return *e
	}
	return ev
}
