package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	goerrors "github.com/go-errors/errors"
	"github.com/jesseduffield/gocui"
	"github.com/spf13/cobra"

	"taskhub/pkg/client"
)

const (
	viewHeader  = "header"
	viewActive  = "active"
	viewDone    = "done"
	viewNotices = "notices"
	viewFooter  = "footer"

	noticeLimit = 200
)

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Live task board driven by the push channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cfg, err := apiClient(cmd)
			if err != nil {
				return err
			}
			if cfg.Token == "" {
				return fmt.Errorf("not logged in, run taskhubctl login first")
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			s := client.NewSync(c)
			// Fail fast on a stale token before taking over the terminal.
			if err := s.Restore(ctx); err != nil {
				return fmt.Errorf("session check failed: %w", err)
			}
			return runWatch(ctx, cancel, s)
		},
	}
}

type watchUI struct {
	gui  *gocui.Gui
	sync *client.Sync
	ctx  context.Context

	mu      sync.Mutex
	notices []string
	lastCue string
}

func runWatch(ctx context.Context, cancel context.CancelFunc, s *client.Sync) error {
	gui, err := gocui.NewGui(gocui.NewGuiOpts{OutputMode: gocui.OutputNormal})
	if err != nil {
		return err
	}

	ui := &watchUI{gui: gui, sync: s, ctx: ctx}
	s.Notifier = ui

	gui.SetManagerFunc(ui.layout)
	if err := ui.bindKeys(gui); err != nil {
		gui.Close()
		return err
	}

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		s.Run(ctx)
	}()
	// Refreshes without a notice (reconnects, recovery resyncs) still
	// need to reach the screen.
	go ui.redrawLoop(ctx)

	err = gui.MainLoop()
	cancel()
	<-runDone
	gui.Close()
	if err != nil && err != gocui.ErrQuit {
		return err
	}
	return nil
}

// Notice implements client.Notifier. Called from the push channel
// goroutine, so it only records and schedules a redraw.
func (u *watchUI) Notice(text string) {
	u.mu.Lock()
	u.notices = append(u.notices, time.Now().Format("15:04:05")+"  "+text)
	if len(u.notices) > noticeLimit {
		u.notices = u.notices[len(u.notices)-noticeLimit:]
	}
	u.mu.Unlock()
	u.redraw()
}

// Cue implements client.Notifier. The terminal has no sound or desktop
// notifications; the cue shows up in the header instead.
func (u *watchUI) Cue(category string) {
	u.mu.Lock()
	u.lastCue = category
	u.mu.Unlock()
	u.redraw()
}

func (u *watchUI) redraw() {
	u.gui.Update(func(*gocui.Gui) error { return nil })
}

func (u *watchUI) redrawLoop(ctx context.Context) {
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			u.redraw()
		}
	}
}

func (u *watchUI) bindKeys(gui *gocui.Gui) error {
	if err := gui.SetKeybinding("", gocui.KeyCtrlC, gocui.ModNone, u.quit); err != nil {
		return err
	}
	if err := gui.SetKeybinding("", 'q', gocui.ModNone, u.quit); err != nil {
		return err
	}
	if err := gui.SetKeybinding("", 'r', gocui.ModNone, u.manualRefresh); err != nil {
		return err
	}
	return nil
}

func (u *watchUI) quit(_ *gocui.Gui, _ *gocui.View) error {
	return gocui.ErrQuit
}

func (u *watchUI) manualRefresh(_ *gocui.Gui, _ *gocui.View) error {
	go func() {
		if err := u.sync.RefreshAll(u.ctx); err != nil && u.ctx.Err() == nil {
			u.Notice("refresh failed: " + err.Error())
			return
		}
		u.redraw()
	}()
	return nil
}

func (u *watchUI) layout(gui *gocui.Gui) error {
	maxX, maxY := gui.Size()
	if maxX < 20 || maxY < 7 {
		return nil
	}

	headerView, err := gui.SetView(viewHeader, 0, 0, maxX-1, 0, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	headerView.Frame = false
	u.renderHeader(headerView)

	footerView, err := gui.SetView(viewFooter, 0, maxY-1, maxX-1, maxY-1, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	footerView.Frame = false
	footerView.Clear()
	fmt.Fprint(footerView, "r refresh | q quit")

	bodyTop := 1
	bodyBottom := maxY - 2
	listX1 := maxX*2/3 - 1
	splitY := bodyTop + (bodyBottom-bodyTop)/2

	activeView, err := gui.SetView(viewActive, 0, bodyTop, listX1, splitY, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	activeView.Title = "Active"
	u.renderTasks(activeView, u.sync.ActiveTasks())

	doneView, err := gui.SetView(viewDone, 0, splitY+1, listX1, bodyBottom, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	doneView.Title = "Completed"
	u.renderTasks(doneView, u.sync.CompletedTasks())

	noticesView, err := gui.SetView(viewNotices, listX1+1, bodyTop, maxX-1, bodyBottom, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		noticesView.Autoscroll = true
	}
	noticesView.Title = "Notices"
	u.renderNotices(noticesView)

	return nil
}

func (u *watchUI) renderHeader(view *gocui.View) {
	view.Clear()
	who := "?"
	if cu := u.sync.CurrentUser(); cu != nil {
		who = cu.Username
		if cu.IsAdmin {
			who += " (admin)"
		}
	}
	u.mu.Lock()
	cue := u.lastCue
	u.mu.Unlock()
	if cue == "" {
		fmt.Fprintf(view, "taskhub  %s", who)
		return
	}
	fmt.Fprintf(view, "taskhub  %s  |  last event: %s", who, cue)
}

func (u *watchUI) renderTasks(view *gocui.View, tasks []client.Task) {
	view.Clear()
	now := time.Now()
	for _, t := range tasks {
		line := t.Title
		if t.AssignedUsername != nil {
			line += "  @" + *t.AssignedUsername
		}
		if t.DueDate != nil {
			due := t.DueDate.Local().Format("Jan 2 15:04")
			if !t.Completed && t.DueDate.Before(now) {
				due += " OVERDUE"
			}
			line += "  (due " + due + ")"
		}
		fmt.Fprintln(view, line)
	}
}

func (u *watchUI) renderNotices(view *gocui.View) {
	view.Clear()
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, n := range u.notices {
		fmt.Fprintln(view, n)
	}
}
