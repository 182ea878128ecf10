package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/fastlane-games/fastlane-client/pkg/game/types"
	"github.com/fastlane-games/fastlane-client/pkg/log"
)

// wirePlayer is the player shape on the wire. Balance is decoded leniently
// because some server paths have historically sent it as a string.
type wirePlayer struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Track     string          `json:"track"`
	Position  int             `json:"position"`
	Balance   json.RawMessage `json:"balance"`
	Ready     bool            `json:"ready"`
	HasBundle bool            `json:"hasBundle"`
}

func (w *wirePlayer) toPlayer(endpoint string) (*types.Player, error) {
	if w.ID == "" {
		return nil, &ValidationError{Endpoint: endpoint, Reason: "player missing id"}
	}
	track := types.Track(w.Track)
	if track != types.TrackInner && track != types.TrackOuter {
		track = types.TrackInner
	}
	return &types.Player{
		ID:        w.ID,
		Name:      w.Name,
		Track:     track,
		Position:  w.Position,
		Balance:   numberOrZero(w.Balance, endpoint),
		Ready:     w.Ready,
		HasBundle: w.HasBundle,
	}, nil
}

// numberOrZero decodes a balance amount, clamping anything non-numeric to 0
// with a warning.
func numberOrZero(raw json.RawMessage, endpoint string) int64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		log.Warn("Non-numeric balance %q from %s, clamping to 0", string(raw), endpoint)
		return 0
	}
	return int64(f)
}

type wireState struct {
	RoomID             *string           `json:"roomId"`
	Players            []wirePlayer      `json:"players"`
	CurrentPlayerIndex *int              `json:"currentPlayerIndex"`
	GameStarted        *bool             `json:"gameStarted"`
	LastDiceRoll       *types.RollResult `json:"lastDiceRoll"`
	CanRoll            *bool             `json:"canRoll"`
	CanMove            *bool             `json:"canMove"`
	CanEndTurn         *bool             `json:"canEndTurn"`
}

// toPatch converts the wire state into a session patch. Fields absent from
// the server response stay nil so a lagging snapshot never clobbers local
// fields the server has not echoed yet.
func (w *wireState) toPatch(endpoint string) (*types.SessionPatch, error) {
	patch := &types.SessionPatch{
		RoomID:             w.RoomID,
		CurrentPlayerIndex: w.CurrentPlayerIndex,
		GameStarted:        w.GameStarted,
		LastDiceRoll:       w.LastDiceRoll,
		CanRoll:            w.CanRoll,
		CanMove:            w.CanMove,
		CanEndTurn:         w.CanEndTurn,
	}
	if w.Players != nil {
		patch.Players = make([]*types.Player, 0, len(w.Players))
		for i := range w.Players {
			player, err := w.Players[i].toPlayer(endpoint)
			if err != nil {
				return nil, err
			}
			patch.Players = append(patch.Players, player)
		}
	}
	return patch, nil
}

type ackResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func decodeAck(body []byte, endpoint string) error {
	var ack ackResponse
	if err := json.Unmarshal(body, &ack); err != nil {
		return &ValidationError{Endpoint: endpoint, Reason: fmt.Sprintf("malformed ack: %v", err)}
	}
	if !ack.Success {
		return fmt.Errorf("%s rejected: %s", endpoint, ack.Error)
	}
	return nil
}

// Roll asks the server to roll dice for the room.
func (c *Client) Roll(ctx context.Context, roomID string) (*types.RollResult, error) {
	endpoint := fmt.Sprintf("/rooms/%s/roll", roomID)
	body, err := c.Request(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var roll types.RollResult
	if err := json.Unmarshal(body, &roll); err != nil {
		return nil, &ValidationError{Endpoint: endpoint, Reason: fmt.Sprintf("malformed roll: %v", err)}
	}
	if roll.DiceCount < 1 || len(roll.Faces) != roll.DiceCount {
		return nil, &ValidationError{Endpoint: endpoint, Reason: "roll missing dice faces"}
	}
	roll.Source = types.RollSourceServer
	return &roll, nil
}

// Move advances the active player by the given number of steps.
func (c *Client) Move(ctx context.Context, roomID string, steps int) error {
	endpoint := fmt.Sprintf("/rooms/%s/move", roomID)
	payload := struct {
		Steps int `json:"steps"`
	}{Steps: steps}
	body, err := c.Request(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return err
	}
	return decodeAck(body, endpoint)
}

// EndTurn ends the active player's turn.
func (c *Client) EndTurn(ctx context.Context, roomID string) error {
	endpoint := fmt.Sprintf("/rooms/%s/end-turn", roomID)
	body, err := c.Request(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return err
	}
	return decodeAck(body, endpoint)
}

// GameState fetches the authoritative room snapshot as a session patch.
func (c *Client) GameState(ctx context.Context, roomID string) (*types.SessionPatch, error) {
	endpoint := fmt.Sprintf("/rooms/%s/game-state", roomID)
	body, err := c.Request(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Success bool       `json:"success"`
		State   *wireState `json:"state"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ValidationError{Endpoint: endpoint, Reason: fmt.Sprintf("malformed state: %v", err)}
	}
	if !resp.Success || resp.State == nil {
		return nil, &ValidationError{Endpoint: endpoint, Reason: "response missing state"}
	}
	return resp.State.toPatch(endpoint)
}

// Players fetches the room's player list.
func (c *Client) Players(ctx context.Context, roomID string) ([]*types.Player, error) {
	endpoint := fmt.Sprintf("/rooms/%s/players", roomID)
	body, err := c.Request(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Success bool         `json:"success"`
		Players []wirePlayer `json:"players"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ValidationError{Endpoint: endpoint, Reason: fmt.Sprintf("malformed players: %v", err)}
	}
	if !resp.Success {
		return nil, &ValidationError{Endpoint: endpoint, Reason: "response missing players"}
	}
	players := make([]*types.Player, 0, len(resp.Players))
	for i := range resp.Players {
		player, err := resp.Players[i].toPlayer(endpoint)
		if err != nil {
			return nil, err
		}
		players = append(players, player)
	}
	return players, nil
}

// SetPlayerPosition writes a player's board position.
func (c *Client) SetPlayerPosition(ctx context.Context, roomID, playerID string, position int) error {
	endpoint := fmt.Sprintf("/rooms/%s/players/%s/position", roomID, playerID)
	payload := struct {
		Position int `json:"position"`
	}{Position: position}
	body, err := c.Request(ctx, http.MethodPut, endpoint, payload)
	if err != nil {
		return err
	}
	return decodeAck(body, endpoint)
}

// SetActivePlayer makes the given player the active player.
func (c *Client) SetActivePlayer(ctx context.Context, roomID, playerID string) error {
	endpoint := fmt.Sprintf("/rooms/%s/active-player", roomID)
	payload := struct {
		PlayerID string `json:"playerId"`
	}{PlayerID: playerID}
	body, err := c.Request(ctx, http.MethodPut, endpoint, payload)
	if err != nil {
		return err
	}
	return decodeAck(body, endpoint)
}

// DeckPayload is a deck as served by the cards endpoint.
type DeckPayload struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	DrawPile    []types.Card `json:"drawPile"`
	DiscardPile []types.Card `json:"discardPile"`
}

// DeckStats carries pile counts for one deck.
type DeckStats struct {
	ID           string `json:"id"`
	DrawCount    int    `json:"drawCount"`
	DiscardCount int    `json:"discardCount"`
}

// CardCatalog is the full cards response.
type CardCatalog struct {
	Decks     []DeckPayload `json:"decks"`
	Stats     []DeckStats   `json:"stats"`
	UpdatedAt int64         `json:"updatedAt"`
}

// Cards fetches deck metadata for display mirrors.
func (c *Client) Cards(ctx context.Context) (*CardCatalog, error) {
	endpoint := "/cards"
	body, err := c.Request(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Success bool         `json:"success"`
		Data    *CardCatalog `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ValidationError{Endpoint: endpoint, Reason: fmt.Sprintf("malformed catalog: %v", err)}
	}
	if !resp.Success || resp.Data == nil {
		return nil, &ValidationError{Endpoint: endpoint, Reason: "response missing data"}
	}
	return resp.Data, nil
}

// UserInfo identifies the local user during push registration.
type UserInfo struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
}

// RegisterPush registers a client identity for push delivery.
func (c *Client) RegisterPush(ctx context.Context, clientID string, userInfo UserInfo) error {
	payload := struct {
		ClientID string   `json:"clientId"`
		UserInfo UserInfo `json:"userInfo"`
	}{ClientID: clientID, UserInfo: userInfo}
	body, err := c.Request(ctx, http.MethodPost, "/push/register", payload)
	if err != nil {
		return err
	}
	return decodeAck(body, "/push/register")
}

// UnregisterPush removes a client registration.
func (c *Client) UnregisterPush(ctx context.Context, clientID string) error {
	payload := struct {
		ClientID string `json:"clientId"`
	}{ClientID: clientID}
	body, err := c.Request(ctx, http.MethodPost, "/push/unregister", payload)
	if err != nil {
		return err
	}
	return decodeAck(body, "/push/unregister")
}

// BroadcastPush publishes an event to every other registered client.
func (c *Client) BroadcastPush(ctx context.Context, eventType string, data interface{}, excludeClientID string) error {
	payload := struct {
		Type            string      `json:"type"`
		Data            interface{} `json:"data"`
		ExcludeClientID string      `json:"excludeClientId,omitempty"`
	}{Type: eventType, Data: data, ExcludeClientID: excludeClientID}
	body, err := c.Request(ctx, http.MethodPost, "/push/broadcast", payload)
	if err != nil {
		return err
	}
	return decodeAck(body, "/push/broadcast")
}
