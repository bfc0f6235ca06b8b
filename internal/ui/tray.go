// Package ui shows the agent's export state in the system tray.
package ui

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/getlantern/systray"

	"github.com/framecut/framecut-agent/internal/export"
)

//go:embed icon.png
var iconBytes []byte

const initTimeout = 2 * time.Minute

type Tray struct {
	orch   *export.Orchestrator
	logger *slog.Logger

	statusItem    *systray.MenuItem
	artifactsItem *systray.MenuItem
	initItem      *systray.MenuItem

	mu          sync.Mutex
	unsubscribe func()

	onQuit func()
}

type TrayConfig struct {
	Orchestrator *export.Orchestrator
	Logger       *slog.Logger
	OnQuit       func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		orch:   cfg.Orchestrator,
		logger: cfg.Logger,
		onQuit: cfg.OnQuit,
	}
}

// Run blocks on the tray event loop. It must be called from the main goroutine.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes)
	systray.SetTitle("Framecut")
	systray.SetTooltip("Framecut Export Agent")

	t.statusItem = systray.AddMenuItem(statusTitle(export.Status{State: export.StateNotInitialized}), "Export engine status")
	t.statusItem.Disable()

	t.artifactsItem = systray.AddMenuItem(artifactsTitle(0, 0), "Finished exports held in memory")
	t.artifactsItem.Disable()

	systray.AddSeparator()

	t.initItem = systray.AddMenuItem("Initialize Engine", "Load the export engine now")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit Framecut Agent")

	updates, cancel := t.orch.Subscribe()
	t.mu.Lock()
	t.unsubscribe = cancel
	t.mu.Unlock()

	go func() {
		for st := range updates {
			t.apply(st)
		}
	}()

	go func() {
		for {
			select {
			case <-t.initItem.ClickedCh:
				go t.initialize()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			}
		}
	}()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	t.mu.Lock()
	if t.unsubscribe != nil {
		t.unsubscribe()
		t.unsubscribe = nil
	}
	t.mu.Unlock()
	t.logger.Info("system tray exiting")
}

func (t *Tray) initialize() {
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	if err := t.orch.Initialize(ctx); err != nil {
		t.logger.Error("engine initialization from tray failed", "error", err)
	}
}

func (t *Tray) apply(st export.Status) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.statusItem.SetTitle(statusTitle(st))
	store := t.orch.Store()
	t.artifactsItem.SetTitle(artifactsTitle(store.Len(), store.Bytes()))

	if st.Ready || st.State == export.StateInitializing {
		t.initItem.Disable()
	} else {
		t.initItem.Enable()
	}
}

func (t *Tray) Quit() {
	systray.Quit()
}

func statusTitle(st export.Status) string {
	switch st.State {
	case export.StateInitializing:
		return "Engine: Loading..."
	case export.StateReady:
		return "Engine: Ready"
	case export.StateProcessing:
		return fmt.Sprintf("Exporting: %d%%", st.Progress)
	case export.StateError:
		if st.Error != "" {
			return "Error: " + st.Error
		}
		return "Error"
	default:
		return "Engine: Not loaded"
	}
}

func artifactsTitle(count int, size int64) string {
	if count == 0 {
		return "Artifacts: none"
	}
	return fmt.Sprintf("Artifacts: %d (%s)", count, humanize.Bytes(uint64(size)))
}
