package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/five82/clanhub/internal/backend"
	"github.com/five82/clanhub/internal/config"
	"github.com/five82/clanhub/internal/feed"
	"github.com/five82/clanhub/internal/prefs"
	"github.com/five82/clanhub/internal/state"
	"github.com/five82/clanhub/internal/ui"
)

// Options configure the clanhub application.
type Options struct {
	ConfigPath string
	PrefsPath  string // empty uses default ~/.config/clanhub/prefs.toml
	Email      string
	Password   string
	// Logout clears the stored session and exits.
	Logout bool
}

const snapshotTick = 5 * time.Second

var _ ui.Hub = (*state.Hub)(nil)

// Run boots the clanhub console until the user quits or the context is cancelled.
func Run(ctx context.Context, opts Options) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	userPrefs, _ := prefs.Load(opts.PrefsPath)

	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		f, err := tea.LogToFile(cfg.LogFile, "clanhub")
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
	}

	client, err := backend.NewClient(cfg.BackendURL, cfg.APIKey)
	if err != nil {
		return fmt.Errorf("init backend client: %w", err)
	}

	if opts.Logout {
		return signOut(ctx, client, cfg.SessionPath)
	}

	sess, err := establishSession(ctx, client, cfg.SessionPath, Credentials{Email: opts.Email, Password: opts.Password})
	if err != nil {
		return err
	}

	keeper := newTokenKeeper(client, cfg.SessionPath, sess)
	store := reauthStore{Store: client, token: client.AccessToken, refresh: keeper.Refresh}

	viewer, err := resolveViewer(ctx, store, sess.AccessToken)
	if err != nil {
		return fmt.Errorf("resolve viewer: %w", err)
	}
	log.Printf("signed in as %s (admin=%t)", viewer.Email, viewer.Privileged)

	hub, err := state.New(state.Options{Remote: store, Viewer: viewer})
	if err != nil {
		return fmt.Errorf("init hub: %w", err)
	}
	defer hub.Close()

	rt, err := feed.New(feed.Options{
		URL:           cfg.RealtimeURL,
		APIKey:        cfg.APIKey,
		Token:         client.AccessToken,
		Heartbeat:     cfg.Heartbeat,
		ReconnectBase: cfg.ReconnectBase,
	})
	if err != nil {
		return fmt.Errorf("init realtime: %w", err)
	}
	for _, kind := range hub.Kinds() {
		rt.Subscribe(feed.Subscription{Table: kind, Filter: hub.ServerFilter(kind)})
	}
	keeper.OnRefresh(rt.PushToken)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	rtDone := make(chan struct{})
	go func() {
		defer close(rtDone)
		if err := rt.Run(runCtx); err != nil {
			log.Printf("realtime stopped: %v", err)
		}
	}()
	pump := StartPump(runCtx, hub, rt, nil)
	startTokenRefresher(runCtx, keeper)

	// Populate collections before the UI draws; failures show per tab. The
	// pump loads again once the feed has joined.
	if err := hub.Refresh(runCtx); err != nil {
		log.Printf("initial load: %v", err)
	}

	uiErr := ui.Run(ui.Options{
		Context:      runCtx,
		Hub:          hub,
		ThemeName:    userPrefs.Theme,
		Tab:          userPrefs.Tab,
		PrefsPath:    opts.PrefsPath,
		LogFile:      cfg.LogFile,
		RefreshEvery: snapshotTick,
		Online:       pump.Online,
	})

	cancel()
	_ = rt.Close()
	<-rtDone
	<-pump.Done()
	return uiErr
}
