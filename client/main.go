package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"

	"github.com/wfunc/cardduel/logger"
	"github.com/wfunc/cardduel/network"
)

var errUnknownInput = errors.New("unknown input, try: create | join CODE | ready | guess NAME")

// parseLine turns one line typed by the user into a command. create is handled
// over HTTP and returns a nil command.
func parseLine(line string) (network.Command, error) {
	verb, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(verb) {
	case "join":
		if arg == "" {
			return nil, errors.New("usage: join CODE")
		}
		return network.Join{RoomCode: arg}, nil
	case "ready":
		return network.ToggleReady{}, nil
	case "guess":
		if arg == "" {
			return nil, errors.New("usage: guess NAME")
		}
		return network.Guess{ItemName: arg}, nil
	case "create":
		return nil, nil
	default:
		return nil, errUnknownInput
	}
}

func describeFeedback(fb network.TurnUpdate) string {
	var b strings.Builder
	if fb.SelfFeedback != nil {
		c := fb.SelfFeedback.Comparisons
		fmt.Fprintf(&b, "you: %s (cost %s, rarity %s, tier %s, type %s, variant %s)",
			fb.SelfFeedback.Item.Name, c.Cost, c.Rarity, c.Tier, c.Type, c.HasVariant)
	}
	switch {
	case fb.OpponentFeedback != nil:
		fmt.Fprintf(&b, "; opponent: %s", fb.OpponentFeedback.Item.Name)
	case fb.OpponentStatus != "":
		fmt.Fprintf(&b, "; opponent %s", fb.OpponentStatus)
	}
	for _, h := range fb.Hints {
		fmt.Fprintf(&b, "; hint %s=%v", h.Label, h.Value)
	}
	return b.String()
}

// describe renders an event as one line of terminal output.
func describe(ev network.Event) string {
	switch e := ev.(type) {
	case network.LobbyUpdate:
		names := make([]string, len(e.Participants))
		for i, p := range e.Participants {
			ready := ""
			if p.IsReady {
				ready = " (ready)"
			}
			names[i] = p.Name + ready
		}
		return fmt.Sprintf("room %s: %s", e.RoomCode, strings.Join(names, ", "))
	case network.GameStart:
		return fmt.Sprintf("game started in %s: %d turns, hints %v", e.RoomCode, e.Settings.MaxTurns, e.Settings.HintsEnabled)
	case network.TurnUpdate:
		return fmt.Sprintf("turn %d: %s", e.Turn, describeFeedback(e))
	case network.TimerStarted:
		return fmt.Sprintf("opponent guessed, %ds left", e.DurationSeconds)
	case network.AutoGuessed:
		return "time is up, guessed " + e.ItemName
	case network.NewTurn:
		return fmt.Sprintf("turn %d", e.Turn)
	case network.GameOver:
		switch {
		case e.Result.Draw:
			return "draw! the card was " + e.SecretItem.Name
		case e.Result.Winner != nil && *e.Result.Winner == network.WinnerSelf:
			return "you win! the card was " + e.SecretItem.Name
		case e.Result.Winner != nil:
			return "you lose, the card was " + e.SecretItem.Name
		default:
			return "out of turns, the card was " + e.SecretItem.Name
		}
	case network.OpponentDisconnected:
		return "opponent disconnected"
	case network.HostDisconnected:
		return e.Message
	case network.Error:
		return "error: " + e.Message
	default:
		return ev.EventType()
	}
}

func createRoom(baseURL string, maxTurns int, hints, public bool) (string, error) {
	body, _ := json.Marshal(map[string]any{"maxTurns": maxTurns, "hintsEnabled": hints, "isPublic": public})
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(baseURL+"/rooms", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusCreated {
		return "", errors.New(out["error"])
	}
	return out["roomCode"], nil
}

func main() {
	host := pflag.String("server", "localhost:8080", "server host:port")
	maxTurns := pflag.Int("max-turns", 0, "turns for rooms created with 'create' (0 = server default)")
	hints := pflag.Bool("hints", true, "enable hints for created rooms")
	public := pflag.Bool("public", false, "list created rooms publicly")
	pflag.Parse()

	if err := logger.Init("info", true); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	u := url.URL{Scheme: "ws", Host: *host, Path: "/ws"}
	logger.Log.Infof("Connecting to %s", u.String())

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		logger.Log.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	done := make(chan struct{})

	// Read loop
	go func() {
		defer close(done)
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				logger.Log.Infof("Connection closed: %v", err)
				return
			}
			ev, err := network.DecodeEvent(message)
			if err != nil {
				logger.Log.Warnf("Undecodable event %q: %v", message, err)
				continue
			}
			fmt.Println("<-", describe(ev))
		}
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	fmt.Println("Commands: create | join CODE | ready | guess NAME")

	// Write loop
	for {
		select {
		case <-done:
			return
		case <-interrupt:
			logger.Log.Info("Interrupt received, closing connection.")
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				logger.Log.Warnf("Write close error: %v", err)
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			cmd, err := parseLine(line)
			if err != nil {
				fmt.Println(err)
				continue
			}
			if cmd == nil {
				code, err := createRoom("http://"+*host, *maxTurns, *hints, *public)
				if err != nil {
					fmt.Println("create failed:", err)
					continue
				}
				fmt.Println("room created:", code)
				cmd = network.Join{RoomCode: code}
			}
			data, err := network.EncodeCommand(cmd)
			if err != nil {
				fmt.Println(err)
				continue
			}
			if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Log.Errorf("Write error: %v", err)
				return
			}
		}
	}
}
