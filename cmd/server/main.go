package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/fastlane-games/fastlane-client/pkg/game/constants"
	"github.com/fastlane-games/fastlane-client/pkg/game/types"
	"github.com/fastlane-games/fastlane-client/pkg/log"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// gameServer is an in-memory development server. It implements the full
// client-facing API so the client can be exercised end to end without the
// production backend.
type gameServer struct {
	lock    sync.Mutex
	rooms   map[string]*room
	clients map[string]*pushClient
	randGen *rand.Rand

	rateLimit  rateLimiter
	retryAfter int
}

type room struct {
	state              *types.SessionState
	consecutiveDoubles int
	decks              []deckState
	decksUpdatedAt     int64
}

type deckState struct {
	ID          string
	Name        string
	DrawPile    []types.Card
	DiscardPile []types.Card
}

type pushClient struct {
	clientID   string
	playerID   string
	playerName string
	roomID     string
	conn       *websocket.Conn
	sendLock   sync.Mutex
}

// rateLimiter is a fixed-window request counter. It exists to exercise the
// client's 429 handling, not to be a production limiter.
type rateLimiter struct {
	lock        sync.Mutex
	windowStart time.Time
	count       int
	perSecond   int
}

func (r *rateLimiter) allow() bool {
	if r.perSecond <= 0 {
		return true
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	now := time.Now()
	if now.Sub(r.windowStart) >= time.Second {
		r.windowStart = now
		r.count = 0
	}
	r.count++
	return r.count <= r.perSecond
}

func newGameServer(ratePerSecond, retryAfter int) *gameServer {
	return &gameServer{
		rooms:      make(map[string]*room),
		clients:    make(map[string]*pushClient),
		randGen:    rand.New(rand.NewSource(time.Now().UnixNano())),
		rateLimit:  rateLimiter{perSecond: ratePerSecond},
		retryAfter: retryAfter,
	}
}

// roomLocked returns the room, creating a demo room on first access so a
// fresh client has something to sync against. Callers hold the lock.
func (s *gameServer) roomLocked(roomID string) *room {
	if r, ok := s.rooms[roomID]; ok {
		return r
	}
	state := types.NewSessionState(roomID)
	state.Players = []*types.Player{
		{ID: "demo-1", Name: "Avery", Track: types.TrackInner, Position: 0, Balance: 10000, Ready: true},
		{ID: "demo-2", Name: "Jordan", Track: types.TrackInner, Position: 0, Balance: 10000, Ready: true},
	}
	state.GameStarted = true
	state.CanRoll = true
	r := &room{
		state:          state,
		decks:          demoDecks(),
		decksUpdatedAt: time.Now().UnixMilli(),
	}
	s.rooms[roomID] = r
	return r
}

func demoDecks() []deckState {
	return []deckState{
		{
			ID:   "deal",
			Name: "Deals",
			DrawPile: []types.Card{
				{ID: "deal-1", Title: "Rental duplex", Value: 5000, Description: "Cash-flowing duplex"},
				{ID: "deal-2", Title: "Index fund", Value: 1000, Description: "Broad market fund"},
				{ID: "deal-3", Title: "Startup shares", Value: 2500, Description: "Speculative equity"},
			},
		},
		{
			ID:   "expense",
			Name: "Expenses",
			DrawPile: []types.Card{
				{ID: "expense-1", Title: "Car repair", Value: -800, Description: "Transmission work"},
				{ID: "expense-2", Title: "New phone", Value: -600, Description: "You dropped it"},
			},
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error("Failed to write response: %v", err)
	}
}

func writeAck(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"success": false, "error": msg})
}

// rateLimitMiddleware answers 429 with a Retry-After header once the
// per-second budget is exhausted.
func (s *gameServer) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.rateLimit.allow() {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", s.retryAfter))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *gameServer) handleRoll(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]

	s.lock.Lock()
	room := s.roomLocked(roomID)
	if !room.state.CanRoll {
		s.lock.Unlock()
		writeError(w, http.StatusConflict, "rolling is not allowed right now")
		return
	}
	faces := []int{s.randGen.Intn(constants.DiceFaces) + 1, s.randGen.Intn(constants.DiceFaces) + 1}
	isDouble := faces[0] == faces[1]
	if isDouble {
		room.consecutiveDoubles++
	} else {
		room.consecutiveDoubles = 0
	}
	roll := &types.RollResult{
		ID:                 fmt.Sprintf("roll-%d", time.Now().UnixNano()),
		Timestamp:          time.Now().UnixMilli(),
		DiceCount:          len(faces),
		Faces:              faces,
		Total:              faces[0] + faces[1],
		IsDouble:           isDouble,
		ConsecutiveDoubles: room.consecutiveDoubles,
		Source:             types.RollSourceServer,
	}
	if room.consecutiveDoubles >= constants.MaxConsecutiveDoubles {
		roll.MaxDoublesReached = true
		roll.Penalty = types.PenaltyTurnForfeit
		room.consecutiveDoubles = 0
	}
	room.state.LastDiceRoll = roll
	room.state.CanMove = !roll.MaxDoublesReached
	room.state.CanEndTurn = true
	s.lock.Unlock()

	s.broadcast(roomID, "dice_rolled", map[string]interface{}{
		"faces":              roll.Faces,
		"isDouble":           roll.IsDouble,
		"consecutiveDoubles": roll.ConsecutiveDoubles,
		"timestamp":          roll.Timestamp,
	}, "")

	writeJSON(w, http.StatusOK, roll)
}

func (s *gameServer) handleMove(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	var payload struct {
		Steps int `json:"steps"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "malformed move payload")
		return
	}

	s.lock.Lock()
	room := s.roomLocked(roomID)
	active := room.state.ActivePlayer()
	if active == nil {
		s.lock.Unlock()
		writeError(w, http.StatusConflict, "no active player")
		return
	}
	active.Position += payload.Steps
	playerID := active.ID
	position := active.Position
	s.lock.Unlock()

	s.broadcast(roomID, "player_moved", map[string]interface{}{
		"activePlayer": playerID,
		"newPosition":  position,
	}, "")
	writeAck(w)
}

func (s *gameServer) handleEndTurn(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]

	s.lock.Lock()
	room := s.roomLocked(roomID)
	if len(room.state.Players) == 0 {
		s.lock.Unlock()
		writeError(w, http.StatusConflict, "room has no players")
		return
	}
	room.state.CurrentPlayerIndex = (room.state.CurrentPlayerIndex + 1) % len(room.state.Players)
	room.consecutiveDoubles = 0
	room.state.CanRoll = true
	room.state.CanMove = false
	room.state.CanEndTurn = false
	next := room.state.ActivePlayer()
	nextID := ""
	if next != nil {
		nextID = next.ID
	}
	index := room.state.CurrentPlayerIndex
	s.lock.Unlock()

	s.broadcast(roomID, "turn_changed", map[string]interface{}{
		"playerId":           nextID,
		"currentPlayerIndex": index,
	}, "")
	writeAck(w)
}

func (s *gameServer) handleGameState(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]

	s.lock.Lock()
	state := s.roomLocked(roomID).state.Copy()
	s.lock.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"state":   state,
	})
}

func (s *gameServer) handlePlayers(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]

	s.lock.Lock()
	state := s.roomLocked(roomID).state.Copy()
	s.lock.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"players": state.Players,
	})
}

func (s *gameServer) handleSetPosition(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	roomID := vars["roomId"]
	playerID := vars["playerId"]
	var payload struct {
		Position int `json:"position"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "malformed position payload")
		return
	}

	s.lock.Lock()
	room := s.roomLocked(roomID)
	player := room.state.PlayerByID(playerID)
	if player == nil {
		s.lock.Unlock()
		writeError(w, http.StatusNotFound, "player not found")
		return
	}
	player.Position = payload.Position
	s.lock.Unlock()

	s.broadcast(roomID, "player_moved", map[string]interface{}{
		"activePlayer": playerID,
		"newPosition":  payload.Position,
	}, "")
	writeAck(w)
}

func (s *gameServer) handleSetActivePlayer(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	var payload struct {
		PlayerID string `json:"playerId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.PlayerID == "" {
		writeError(w, http.StatusBadRequest, "malformed active-player payload")
		return
	}

	s.lock.Lock()
	room := s.roomLocked(roomID)
	index := -1
	for i, p := range room.state.Players {
		if p.ID == payload.PlayerID {
			index = i
			break
		}
	}
	if index == -1 {
		s.lock.Unlock()
		writeError(w, http.StatusNotFound, "player not found")
		return
	}
	room.state.CurrentPlayerIndex = index
	s.lock.Unlock()

	s.broadcast(roomID, "turn_changed", map[string]interface{}{
		"playerId":           payload.PlayerID,
		"currentPlayerIndex": index,
	}, "")
	writeAck(w)
}

func (s *gameServer) handleCards(w http.ResponseWriter, r *http.Request) {
	s.lock.Lock()
	// Deck metadata is global in the dev server; serve the union of every
	// room's decks, or the demo decks when no room exists yet.
	decks := demoDecks()
	updatedAt := time.Now().UnixMilli()
	for _, room := range s.rooms {
		decks = room.decks
		updatedAt = room.decksUpdatedAt
		break
	}
	s.lock.Unlock()

	type deckPayload struct {
		ID          string       `json:"id"`
		Name        string       `json:"name"`
		DrawPile    []types.Card `json:"drawPile"`
		DiscardPile []types.Card `json:"discardPile"`
	}
	type deckStats struct {
		ID           string `json:"id"`
		DrawCount    int    `json:"drawCount"`
		DiscardCount int    `json:"discardCount"`
	}
	payload := struct {
		Decks     []deckPayload `json:"decks"`
		Stats     []deckStats   `json:"stats"`
		UpdatedAt int64         `json:"updatedAt"`
	}{UpdatedAt: updatedAt}
	for _, d := range decks {
		payload.Decks = append(payload.Decks, deckPayload{
			ID:          d.ID,
			Name:        d.Name,
			DrawPile:    d.DrawPile,
			DiscardPile: d.DiscardPile,
		})
		payload.Stats = append(payload.Stats, deckStats{
			ID:           d.ID,
			DrawCount:    len(d.DrawPile),
			DiscardCount: len(d.DiscardPile),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    payload,
	})
}

func (s *gameServer) handlePushRegister(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ClientID string `json:"clientId"`
		UserInfo struct {
			PlayerID   string `json:"playerId"`
			PlayerName string `json:"playerName"`
		} `json:"userInfo"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.ClientID == "" {
		writeError(w, http.StatusBadRequest, "malformed register payload")
		return
	}

	s.lock.Lock()
	s.clients[payload.ClientID] = &pushClient{
		clientID:   payload.ClientID,
		playerID:   payload.UserInfo.PlayerID,
		playerName: payload.UserInfo.PlayerName,
	}
	s.lock.Unlock()

	log.Info("Registered push client %s (%s)", payload.ClientID, payload.UserInfo.PlayerName)
	writeAck(w)
}

func (s *gameServer) handlePushUnregister(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ClientID string `json:"clientId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.ClientID == "" {
		writeError(w, http.StatusBadRequest, "malformed unregister payload")
		return
	}

	s.lock.Lock()
	client, ok := s.clients[payload.ClientID]
	delete(s.clients, payload.ClientID)
	s.lock.Unlock()

	if ok && client.conn != nil {
		client.conn.Close()
	}
	writeAck(w)
}

func (s *gameServer) handlePushBroadcast(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Type            string          `json:"type"`
		Data            json.RawMessage `json:"data"`
		ExcludeClientID string          `json:"excludeClientId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Type == "" {
		writeError(w, http.StatusBadRequest, "malformed broadcast payload")
		return
	}

	s.broadcastRaw("", payload.Type, payload.Data, payload.ExcludeClientID)
	writeAck(w)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *gameServer) handlePushStream(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("clientId")
	roomID := r.URL.Query().Get("roomId")
	if clientID == "" || roomID == "" {
		writeError(w, http.StatusBadRequest, "clientId and roomId are required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("Failed to upgrade push stream: %v", err)
		return
	}

	s.lock.Lock()
	client, ok := s.clients[clientID]
	if !ok {
		client = &pushClient{clientID: clientID}
		s.clients[clientID] = client
	}
	client.conn = conn
	client.roomID = roomID
	state := s.roomLocked(roomID).state.Copy()
	s.lock.Unlock()

	// Seed the stream with a full snapshot so the client converges
	// immediately instead of waiting for the first delta.
	snapshot, err := json.Marshal(state)
	if err == nil {
		client.send("snapshot", snapshot)
	}

	// Hold the connection open; the read loop only detects disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.lock.Lock()
	if current, ok := s.clients[clientID]; ok && current.conn == conn {
		current.conn = nil
	}
	s.lock.Unlock()
	conn.Close()
}

func (c *pushClient) send(eventType string, data json.RawMessage) {
	c.sendLock.Lock()
	defer c.sendLock.Unlock()
	if c.conn == nil {
		return
	}
	envelope := struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}{Type: eventType, Data: data}
	if err := c.conn.WriteJSON(envelope); err != nil {
		log.Debug("Push send to %s failed: %v", c.clientID, err)
	}
}

func (s *gameServer) broadcast(roomID, eventType string, data interface{}, excludeClientID string) {
	raw, err := json.Marshal(data)
	if err != nil {
		log.Error("Failed to marshal broadcast payload: %v", err)
		return
	}
	s.broadcastRaw(roomID, eventType, raw, excludeClientID)
}

// broadcastRaw pushes an event to every streaming client. An empty roomID
// broadcasts to all rooms.
func (s *gameServer) broadcastRaw(roomID, eventType string, data json.RawMessage, excludeClientID string) {
	s.lock.Lock()
	targets := make([]*pushClient, 0, len(s.clients))
	for _, client := range s.clients {
		if client.clientID == excludeClientID {
			continue
		}
		if roomID != "" && client.roomID != "" && client.roomID != roomID {
			continue
		}
		targets = append(targets, client)
	}
	s.lock.Unlock()

	for _, client := range targets {
		client.send(eventType, data)
	}
}

func (s *gameServer) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/rooms/{roomId}/roll", s.handleRoll).Methods(http.MethodPost)
	r.HandleFunc("/rooms/{roomId}/move", s.handleMove).Methods(http.MethodPost)
	r.HandleFunc("/rooms/{roomId}/end-turn", s.handleEndTurn).Methods(http.MethodPost)
	r.HandleFunc("/rooms/{roomId}/game-state", s.handleGameState).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{roomId}/players", s.handlePlayers).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{roomId}/players/{playerId}/position", s.handleSetPosition).Methods(http.MethodPut)
	r.HandleFunc("/rooms/{roomId}/active-player", s.handleSetActivePlayer).Methods(http.MethodPut)
	r.HandleFunc("/cards", s.handleCards).Methods(http.MethodGet)
	r.HandleFunc("/push/register", s.handlePushRegister).Methods(http.MethodPost)
	r.HandleFunc("/push/unregister", s.handlePushUnregister).Methods(http.MethodPost)
	r.HandleFunc("/push/broadcast", s.handlePushBroadcast).Methods(http.MethodPost)
	// The stream endpoint bypasses the rate limiter; it is one long-lived
	// request, not request traffic.
	r.HandleFunc("/push/stream", s.handlePushStream).Methods(http.MethodGet)

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.URL.Path == "/push/stream" {
				next.ServeHTTP(w, req)
				return
			}
			s.rateLimitMiddleware(next).ServeHTTP(w, req)
		})
	})
	return r
}

func main() {
	port := flag.Int("port", 8080, "Port to listen on")
	logLevel := flag.String("log-level", "info", "Log level (error, warn, info, debug, trace)")
	ratePerSecond := flag.Int("rate-limit", 20, "Requests per second before answering 429 (0 disables)")
	retryAfter := flag.Int("retry-after", 1, "Retry-After seconds sent with 429 responses")
	flag.Parse()

	level, err := log.ParseLogLevel(*logLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to parse log level: %v", err))
	}
	log.SetLevel(level)

	server := newGameServer(*ratePerSecond, *retryAfter)
	addr := fmt.Sprintf(":%d", *port)
	log.Info("Game server listening on %s", addr)
	if err := http.ListenAndServe(addr, server.router()); err != nil {
		log.Error("Server exited: %v", err)
	}
}
