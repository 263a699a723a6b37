package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"

	"github.com/wfunc/cardduel/catalog"
	"github.com/wfunc/cardduel/logger"
	"github.com/wfunc/cardduel/models"
	"github.com/wfunc/cardduel/room"
	"github.com/wfunc/cardduel/solo"
)

const (
	qrSize       = 320
	maxBodyBytes = 1 << 16
)

func corsHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	corsHeaders(w)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Debugf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeBody accepts an empty body as the zero value.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

type createRoomRequest struct {
	MaxTurns     int  `json:"maxTurns"`
	HintsEnabled bool `json:"hintsEnabled"`
	IsPublic     bool `json:"isPublic"`

	// 旧客户端字段
	MaxAttempts int  `json:"maxAttempts"`
	Hints       bool `json:"hints"`
}

func (req createRoomRequest) settings() models.Settings {
	settings := models.Settings{
		MaxTurns:     req.MaxTurns,
		HintsEnabled: req.HintsEnabled || req.Hints,
		IsPublic:     req.IsPublic,
	}
	if settings.MaxTurns == 0 {
		settings.MaxTurns = req.MaxAttempts
	}
	return settings
}

func (s *GameServer) handleCreateRoom(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if ok, msg := s.limiter.Allow("room|" + clientIP(r)); !ok {
		writeError(w, http.StatusTooManyRequests, msg)
		return
	}

	var req createRoomRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	code, err := s.roomManager.CreateRoom(r.Context(), req.settings())
	switch {
	case errors.Is(err, room.ErrInvalidSettings):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		logger.Log.Errorf("create room: %v", err)
		writeError(w, http.StatusServiceUnavailable, "Could not create a room right now.")
		return
	}

	s.monitor.IncRoomsCreated()
	writeJSON(w, http.StatusCreated, map[string]string{"roomCode": code})
}

func (s *GameServer) handlePublicRooms(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	rooms, err := s.roomManager.PublicRooms(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Room list unavailable.")
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (s *GameServer) handleStats(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	stats, err := s.roomManager.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Stats unavailable.")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleRoomQR 生成房间邀请二维码
func (s *GameServer) handleRoomQR(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	code := strings.ToUpper(strings.TrimSpace(ps.ByName("code")))
	if _, ok := s.roomManager.GetRoom(code); !ok {
		writeError(w, http.StatusNotFound, "Room not found.")
		return
	}

	png, err := qrcode.Encode(inviteURL(s.opts.PublicURL, code), qrcode.Medium, qrSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "QR generation failed.")
		return
	}

	corsHeaders(w)
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

func inviteURL(publicURL, code string) string {
	return strings.TrimSuffix(publicURL, "/") + "/?room=" + url.QueryEscape(code)
}

type cardName struct {
	Name string `json:"name"`
}

func (s *GameServer) handleCards(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	names := s.catalog.Names()
	list := make([]cardName, len(names))
	for i, name := range names {
		list[i] = cardName{Name: name}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *GameServer) handleSoloStart(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if ok, msg := s.limiter.Allow("solo|" + clientIP(r)); !ok {
		writeError(w, http.StatusTooManyRequests, msg)
		return
	}

	id := s.solo.Start()
	s.monitor.SetSoloGames(s.solo.Count())
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "maxAttempts": s.solo.MaxAttempts()})
}

type guessRequest struct {
	ID        string `json:"id"`
	GuessName string `json:"guessName"`
}

func (s *GameServer) handleSoloGuess(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req guessRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	res, err := s.solo.Guess(req.ID, req.GuessName)
	switch {
	case errors.Is(err, solo.ErrGameNotFound):
		writeError(w, http.StatusNotFound, "Game not found.")
		return
	case errors.Is(err, catalog.ErrItemNotFound):
		writeError(w, http.StatusBadRequest, "Unknown item: "+req.GuessName)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.monitor.SetSoloGames(s.solo.Count())
	writeJSON(w, http.StatusOK, res)
}

func (s *GameServer) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "ok\n")
}
