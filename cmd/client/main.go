package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fastlane-games/fastlane-client/pkg/api"
	"github.com/fastlane-games/fastlane-client/pkg/balance"
	"github.com/fastlane-games/fastlane-client/pkg/config"
	"github.com/fastlane-games/fastlane-client/pkg/decks"
	"github.com/fastlane-games/fastlane-client/pkg/dice"
	"github.com/fastlane-games/fastlane-client/pkg/events"
	"github.com/fastlane-games/fastlane-client/pkg/game/constants"
	"github.com/fastlane-games/fastlane-client/pkg/log"
	"github.com/fastlane-games/fastlane-client/pkg/push"
	"github.com/fastlane-games/fastlane-client/pkg/reconcile"
	"github.com/google/uuid"
)

// logMirror displays balance writes on the log, standing in for a DOM
// element mirror.
type logMirror struct{}

func (m *logMirror) WriteBalance(playerID string, formatted string, updated bool) {
	log.Info("Balance for %s is now %s", playerID, formatted)
}

var deckTemplates = []decks.DeckInfo{
	{ID: "deal", Name: "Deals", Description: "Small and big investment opportunities"},
	{ID: "market", Name: "Market", Description: "Market events affecting held assets"},
	{ID: "expense", Name: "Expenses", Description: "Unexpected costs"},
	{ID: "fastlane", Name: "Fast Lane", Description: "Outer track opportunities"},
}

func main() {
	configPath := flag.String("config", "", "Path to the YAML config file")
	serverURL := flag.String("server-url", "", "Game server base URL (overrides config)")
	roomID := flag.String("room", "", "Room to join")
	playerName := flag.String("name", "", "Display name (overrides config)")
	logLevel := flag.String("log-level", "", "Log level (error, warn, info, debug, trace)")
	transport := flag.String("transport", "", "Update transport: poll or stream (overrides config)")
	flag.Parse()

	if err := run(*configPath, *serverURL, *roomID, *playerName, *logLevel, *transport); err != nil {
		log.Error("Client exited with error: %v", err)
		os.Exit(1)
	}
}

func run(configPath, serverURL, roomID, playerName, logLevel, transport string) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}
	if serverURL != "" {
		cfg.Server.URL = serverURL
	}
	if playerName != "" {
		cfg.Client.PlayerName = playerName
	}
	if logLevel != "" {
		cfg.Client.LogLevel = logLevel
	}
	if transport != "" {
		cfg.Sync.Transport = transport
	}
	if roomID == "" {
		return fmt.Errorf("a room id is required (-room)")
	}

	level, err := log.ParseLogLevel(cfg.Client.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}
	log.SetLevel(level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Every service is constructed once here and passed explicitly; there
	// are no global service lookups.
	bus := events.NewBus()
	apiClient := api.NewClient(api.NewClientOptions{BaseURL: cfg.Server.URL})
	reconciler := reconcile.NewReconciler(roomID, bus)
	diceEngine := dice.NewEngine(dice.NewEngineOptions{
		Bus: bus,
		Gate: func() bool {
			return reconciler.State().CanRoll
		},
	})
	balances := balance.NewLayer(balance.NewLayerOptions{
		APIClient: apiClient,
		Bus:       bus,
	})

	store, err := decks.NewSQLiteStore(ctx, cfg.Client.SnapshotPath)
	if err != nil {
		return fmt.Errorf("failed to open deck snapshot store: %w", err)
	}
	defer store.Close()

	deckLifecycle, err := decks.NewLifecycle(ctx, decks.NewLifecycleOptions{
		RoomID:    roomID,
		Store:     store,
		APIClient: apiClient,
		Bus:       bus,
		Templates: deckTemplates,
	})
	if err != nil {
		return fmt.Errorf("failed to create deck lifecycle: %w", err)
	}

	playerID := uuid.New().String()
	userInfo := api.UserInfo{PlayerID: playerID, PlayerName: cfg.Client.PlayerName}

	loop := push.NewLoop(push.NewLoopOptions{
		APIClient:  apiClient,
		Transport:  newTransport(cfg, apiClient, playerID),
		Reconciler: reconciler,
		Balances:   balances,
		DiceEngine: diceEngine,
		Bus:        bus,
		UserInfo:   userInfo,
	})

	bus.TurnChanged.Subscribe(func(e events.TurnChangedEvent) {
		log.Info("Turn changed to player %s (index %d)", e.PlayerID, e.CurrentPlayerIndex)
	})
	bus.PlayerMoved.Subscribe(func(e events.PlayerMovedEvent) {
		log.Info("Player %s moved to position %d", e.PlayerID, e.Position)
	})
	bus.DiceRolled.Subscribe(func(e events.DiceRolledEvent) {
		log.Info("Dice rolled (%s): %v = %d", e.Roll.Source, e.Roll.Faces, e.Roll.Total)
		if e.Roll.MaxDoublesReached {
			log.Warn("Three consecutive doubles, turn forfeited")
		}
	})
	bus.PlayerJoined.Subscribe(func(e events.PlayerJoinedEvent) {
		balances.BindMirror(e.Player.ID, &logMirror{})
	})
	bus.GameStarted.Subscribe(func(e events.GameStartedEvent) {
		for _, p := range e.Players {
			balances.BindMirror(p.ID, &logMirror{})
		}
		log.Info("Game started with %d players", len(e.Players))
	})
	bus.ConnectionLost.Subscribe(func(e events.ConnectionLostEvent) {
		log.Error("Gave up reconnecting after %d attempts, showing last known state", e.Attempts)
	})

	balances.SetRoom(roomID)
	go balances.Run(ctx)

	if err := deckLifecycle.RefreshMetadata(ctx); err != nil {
		log.Warn("Initial deck metadata fetch failed: %v", err)
	}
	deckLifecycle.StartAutoRefresh(ctx, constants.DeckMetadataRefreshInterval)

	loop.Connect(ctx, roomID)
	log.Info("Connected to room %s as %s", roomID, cfg.Client.PlayerName)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		log.Info("Received signal %s, shutting down", sig)
	case <-loop.GaveUp():
		log.Error("Push delivery gave up, shutting down")
	}

	loop.Disconnect()
	return nil
}

func newTransport(cfg *config.Config, apiClient *api.Client, clientID string) push.Transport {
	if cfg.Sync.Transport == "stream" {
		return push.NewStreamTransport(cfg.Server.WSURL, clientID)
	}
	return push.NewPollTransport(apiClient, cfg.Sync.PollIntervalDuration())
}
