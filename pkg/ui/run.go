package ui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"

	"github.com/MaxKeable/sloane-test-sub000/pkg/chat/session"
	"github.com/MaxKeable/sloane-test-sub000/pkg/chat/transport"
)

// RunConfig describes one chat surface to run in the terminal.
type RunConfig struct {
	BaseURL        string
	ConversationID string
	Namespace      transport.Namespace
	Submit         session.SubmitAPI
	Loader         session.HistoryLoader
	Token          string
}

// Run opens a session for the configured conversation and blocks in the
// terminal program until the user quits.
func Run(ctx context.Context, cfg RunConfig) error {
	updates := make(chan struct{}, 64)
	sessCfg := session.Config{
		BaseURL: cfg.BaseURL,
		Submit:  cfg.Submit,
		Loader:  cfg.Loader,
		OnUpdate: func() {
			select {
			case updates <- struct{}{}:
			default:
			}
		},
		TransportOptions: []transport.Option{
			transport.WithBackoff(250*time.Millisecond, 8*time.Second),
		},
	}
	if cfg.Token != "" {
		sessCfg.TransportOptions = append(sessCfg.TransportOptions,
			transport.WithCredentials(transport.StaticToken(cfg.Token)))
	}

	sess, err := session.New(sessCfg)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.Open(ctx, cfg.ConversationID, cfg.Namespace); err != nil {
		return errors.Wrap(err, "open conversation")
	}

	p := tea.NewProgram(NewModel(sess, updates),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	)
	_, err = p.Run()
	return err
}
