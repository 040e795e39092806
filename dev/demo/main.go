// Command demo is a terminal chat client backed by the sync engine.
// It dials the websocket backend, selects one chat and sends every stdin
// line as a message, to exercise the offline-first flow: kill the
// backend, keep typing, bring it back and watch the outbox drain.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nlow/chatsync"
	"github.com/nlow/chatsync/msg"
	"github.com/nlow/chatsync/remote"
)

var (
	flagWsURL    = flag.String("ws-url", "ws://127.0.0.1:8000/ws", "backend websocket url")
	flagProbeURL = flag.String("probe-url", "http://127.0.0.1:8000/healthz", "reachability probe url")
	flagToken    = flag.String("token", "", "bearer token, optional")

	flagUser = flag.String("user", "", "acting user id")
	flagChat = flag.String("chat", "", "chat id to open")

	flagDataDir       = flag.String("data-dir", ".", "dir for the local database file")
	flagResetOnError  = flag.Bool("reset-on-error", false, "recreate the local database when it fails to open")
	flagSettleDelay   = flag.Duration("settle-delay", 1500*time.Millisecond, "wait after reconnect before draining the outbox")
	flagProbeInterval = flag.Duration("probe-interval", 5*time.Second, "reachability poll interval")

	flagMetricsAddr = flag.String("metrics-addr", "", "serve prometheus metrics on this address, empty to disable")
)

func main() {
	flag.Parse()

	// NOTE: os.Exit() does not call defers.
	os.Exit(run())
}

func run() int {
	defer glog.Flush()

	if v := validateFlags(); v > 0 {
		return v
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	probe := remote.NewHTTPProbe(remote.HTTPProbeConfig{
		URL:      *flagProbeURL,
		Interval: *flagProbeInterval,
	})
	go probe.Run(ctx)

	dialCtx, dialCancel := context.WithTimeout(ctx, 5*time.Second)
	client, err := remote.DialWS(dialCtx, remote.WSConfig{URL: *flagWsURL, Token: *flagToken})
	dialCancel()
	if err != nil {
		return errorf("dial %s: %v", *flagWsURL, err)
	}
	defer client.Close()

	engine, err := chatsync.Open(chatsync.Config{
		StorePath:        filepath.Join(*flagDataDir, fmt.Sprintf("chatsync-%s.db", *flagUser)),
		SelfId:           *flagUser,
		Messages:         client,
		Chats:            client,
		Probe:            probe,
		SettleDelay:      *flagSettleDelay,
		ResetOnInitError: *flagResetOnError,
	})
	if err != nil {
		return errorf("open engine: %v", err)
	}
	defer engine.Close()

	engine.Start(ctx)

	if *flagMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(
			prometheus.DefaultGatherer,
			promhttp.HandlerOpts{},
		))
		go func() {
			if err := http.ListenAndServe(*flagMetricsAddr, mux); err != nil {
				glog.Errorf("metrics server: %v", err)
			}
		}()
	}

	if err := engine.SelectChat(ctx, *flagChat); err != nil {
		return errorf("select chat %s: %v", *flagChat, err)
	}

	go render(ctx, engine)
	go readLines(ctx, cancel, engine)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case <-ctx.Done():
	case sig := <-sigCh:
		glog.Infof("received signal `%s`, stopping", sig.String())
		cancel()
	}

	glog.Info("demo exited")
	return 0
}

// render reprints the chat after every view change.
func render(ctx context.Context, engine *chatsync.Engine) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-engine.Changed():
		}

		fmt.Println("----")
		for _, m := range engine.Messages() {
			fmt.Printf("%s  %-12s %-9s %-8s %s\n",
				time.UnixMilli(m.CreateTime).Format("15:04:05"),
				m.SenderId, m.DeliveryStatus, m.SyncStatus, m.Preview())
		}
		if n := engine.PendingCount(ctx); n > 0 {
			fmt.Printf("(%d queued", n)
			if !engine.Monitor().IsOnline() {
				fmt.Print(", offline")
			}
			fmt.Println(")")
		}
		if n := engine.FailedCount(ctx); n > 0 {
			fmt.Printf("(%d failed, type /clear to discard)\n", n)
		}
	}
}

func readLines(ctx context.Context, cancel context.CancelFunc, engine *chatsync.Engine) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			cancel()
			return
		case line == "/flush":
			res := engine.ProcessQueue(ctx)
			fmt.Printf("flush: %d sent, %d failed, %d deferred\n", res.Success, res.Failed, res.Deferred)
		case line == "/clear":
			engine.ClearFailedMessages(ctx)
		case strings.HasPrefix(line, "/retry "):
			id := strings.TrimSpace(strings.TrimPrefix(line, "/retry "))
			ok, err := engine.RetryMessage(ctx, engine.CurrentChatId(), id)
			if err != nil {
				fmt.Printf("retry: %v\n", err)
			} else if !ok {
				fmt.Printf("retry: no such message %s\n", id)
			}
		default:
			if _, err := engine.SendMessage(ctx, msg.TextContent(line)); err != nil {
				fmt.Printf("send: %v\n", err)
			}
		}
	}
	cancel()
}

func validateFlags() int {
	if *flagUser == "" {
		return errorf("--user is required")
	}
	if *flagChat == "" {
		return errorf("--chat is required")
	}
	if *flagWsURL == "" {
		return errorf("--ws-url is required")
	}
	if *flagProbeURL == "" {
		return errorf("--probe-url is required")
	}
	if *flagDataDir == "" {
		return errorf("--data-dir is required")
	}
	if _, err := os.Stat(*flagDataDir); err != nil {
		return errorf("error stat data dir `%s`: %v", *flagDataDir, err)
	}
	return 0
}

func errorf(format string, args ...interface{}) int {
	glog.Errorf(format, args...)
	return 1
}
