package main

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/MaxKeable/sloane-test-sub000/pkg/chatserver"
	"github.com/MaxKeable/sloane-test-sub000/pkg/persistence/chatstore"
	"github.com/MaxKeable/sloane-test-sub000/pkg/redisstream"
)

type serveSettings struct {
	addr        string
	idleTimeout time.Duration
	scriptPath  string
	echoDelay   time.Duration
	storeDB     string
	redis       redisstream.Settings
}

func newServeCmd() *cobra.Command {
	s := serveSettings{redis: redisstream.DefaultSettings()}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat streaming server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), s)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&s.addr, "addr", ":8088", "HTTP listen address")
	flags.DurationVar(&s.idleTimeout, "idle-timeout", 5*time.Minute,
		"tear down a conversation after its room has been empty this long")
	flags.StringVar(&s.scriptPath, "script", "",
		"YAML reply script; when empty, replies echo the question")
	flags.DurationVar(&s.echoDelay, "echo-interval", 20*time.Millisecond,
		"delay between echo streamer chunks")
	flags.StringVar(&s.storeDB, "store-db", "",
		"SQLite file for the exchange archive; in-memory when empty")
	flags.BoolVar(&s.redis.Enabled, "redis-enabled", false,
		"use Redis Streams as the event broker instead of in-process channels")
	flags.StringVar(&s.redis.Addr, "redis-addr", s.redis.Addr, "Redis address host:port")
	flags.StringVar(&s.redis.Group, "redis-group", s.redis.Group, "Redis consumer group")
	flags.StringVar(&s.redis.Consumer, "redis-consumer", s.redis.Consumer, "Redis consumer name")
	return cmd
}

func runServe(ctx context.Context, s serveSettings) error {
	var (
		pub message.Publisher
		sub message.Subscriber
	)
	if s.redis.Enabled {
		var err error
		pub, sub, err = redisstream.BuildPubSub(s.redis)
		if err != nil {
			return errors.Wrap(err, "build redis transport")
		}
		log.Info().
			Str("component", "chatserver").
			Str("redis_addr", s.redis.Addr).
			Msg("using redis streams broker")
	} else {
		pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
		defer func() { _ = pubSub.Close() }()
		pub, sub = pubSub, pubSub
	}

	var streamer chatserver.Streamer
	if s.scriptPath != "" {
		scripted, err := chatserver.LoadScriptedStreamer(s.scriptPath)
		if err != nil {
			return err
		}
		streamer = scripted
		log.Info().
			Str("component", "chatserver").
			Str("script", s.scriptPath).
			Msg("using scripted replies")
	} else {
		streamer = &chatserver.EchoStreamer{Interval: s.echoDelay}
	}

	var store chatstore.MessageStore
	if s.storeDB != "" {
		sqlStore, err := chatstore.NewSQLiteMessageStore(s.storeDB)
		if err != nil {
			return errors.Wrap(err, "open exchange archive")
		}
		defer func() { _ = sqlStore.Close() }()
		store = sqlStore
	}

	srv, err := chatserver.NewServer(ctx, chatserver.Config{
		Addr:        s.addr,
		Publisher:   pub,
		Subscriber:  sub,
		Streamer:    streamer,
		IdleTimeout: s.idleTimeout,
		Store:       store,
	})
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}
