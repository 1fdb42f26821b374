package main

import (
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/MaxKeable/sloane-test-sub000/pkg/chat/session"
	"github.com/MaxKeable/sloane-test-sub000/pkg/chat/transport"
	"github.com/MaxKeable/sloane-test-sub000/pkg/ui"
)

type chatSettings struct {
	serverURL      string
	conversationID string
	namespace      string
	token          string
}

func newChatCmd() *cobra.Command {
	var s chatSettings

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open a conversation in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, s)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&s.serverURL, "server", "http://localhost:8088", "chat server base URL")
	flags.StringVar(&s.conversationID, "conversation", "",
		"conversation id to join; a new one is generated when empty")
	flags.StringVar(&s.namespace, "namespace", string(transport.NamespaceExpert),
		"room namespace (expert, document)")
	flags.StringVar(&s.token, "token", "", "bearer token for authenticated servers")
	return cmd
}

func runChat(cmd *cobra.Command, s chatSettings) error {
	ns := transport.Namespace(s.namespace)
	if !ns.Valid() {
		return errors.Errorf("unknown namespace %q", s.namespace)
	}
	convID := s.conversationID
	if convID == "" {
		convID = uuid.NewString()
	}

	wsURL := s.serverURL
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}

	return ui.Run(cmd.Context(), ui.RunConfig{
		BaseURL:        wsURL,
		ConversationID: convID,
		Namespace:      ns,
		Submit:         session.NewHTTPSubmitter(s.serverURL, ns, s.token),
		Loader:         session.NewHTTPLoader(s.serverURL, s.token),
		Token:          s.token,
	})
}
