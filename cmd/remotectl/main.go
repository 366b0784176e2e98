package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"apiremote/internal/types"
)

// headerFlags collects repeated -header K:V flags
type headerFlags map[string]string

func (h headerFlags) String() string {
	pairs := make([]string, 0, len(h))
	for k, v := range h {
		pairs = append(pairs, k+":"+v)
	}
	return strings.Join(pairs, ",")
}

func (h headerFlags) Set(value string) error {
	name, v, ok := strings.Cut(value, ":")
	if !ok || strings.TrimSpace(name) == "" {
		return fmt.Errorf("header must be NAME:VALUE, got %q", value)
	}
	h[strings.TrimSpace(name)] = strings.TrimSpace(v)
	return nil
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: remotectl [-url URL] <command> [flags]

Commands:
  send    perform an outbound request through the instance
  logs    print the dashboard log
  events  search the detailed event index
`)
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("remotectl: ")

	// A missing .env is normal
	_ = godotenv.Load()

	defaultURL := os.Getenv("APIREMOTE_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:6001"
	}

	global := flag.NewFlagSet("remotectl", flag.ExitOnError)
	baseURL := global.String("url", defaultURL, "Base URL of the API Remote instance")
	timeout := global.Duration("timeout", 60*time.Second, "HTTP client timeout")
	global.Usage = usage
	global.Parse(os.Args[1:])

	if global.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := NewRemoteClient(*baseURL, *timeout)
	args := global.Args()[1:]

	var err error
	switch global.Arg(0) {
	case "send":
		err = runSend(ctx, client, args)
	case "logs":
		err = runLogs(ctx, client, args)
	case "events":
		err = runEvents(ctx, client, args)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}
}

func runSend(ctx context.Context, client *RemoteClient, args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	endpoint := fs.String("endpoint", "", "Target URL (http, https, ws or wss)")
	method := fs.String("method", "GET", "HTTP method")
	payload := fs.String("payload", "", "JSON payload")
	noDefaults := fs.Bool("no-default-headers", false, "Send no headers instead of the configured defaults")
	headers := headerFlags{}
	fs.Var(headers, "header", "Request header NAME:VALUE (repeatable)")
	fs.Parse(args)

	if *endpoint == "" {
		return fmt.Errorf("-endpoint is required")
	}

	req := types.SendRequest{
		Endpoint: *endpoint,
		Method:   *method,
	}
	if *payload != "" {
		decoder := json.NewDecoder(strings.NewReader(*payload))
		decoder.UseNumber()
		if err := decoder.Decode(&req.Payload); err != nil {
			return fmt.Errorf("invalid -payload: %w", err)
		}
	}
	if len(headers) > 0 {
		req.Headers = headers
	} else if *noDefaults {
		req.Headers = map[string]string{}
	}

	result, err := client.Send(ctx, req)
	if err != nil {
		return err
	}

	fmt.Printf("Status: %d\n", result.StatusCode)
	if result.Response != "" {
		fmt.Println(result.Response)
	}
	return nil
}

func runLogs(ctx context.Context, client *RemoteClient, args []string) error {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	follow := fs.Bool("follow", false, "Keep polling for new lines")
	interval := fs.Duration("interval", 2*time.Second, "Polling interval with -follow")
	fs.Parse(args)

	follower := newLogFollower()
	for {
		lines, err := client.Logs(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		for _, line := range follower.next(lines) {
			fmt.Println(line)
		}

		if !*follow {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(*interval):
		}
	}
}

func runEvents(ctx context.Context, client *RemoteClient, args []string) error {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	text := fs.String("text", "", "Substring to match in message or data")
	level := fs.String("level", "", "Level filter (info, warning, error)")
	limit := fs.Int("limit", 20, "Maximum number of events")
	fs.Parse(args)

	query := types.EventQuery{Text: *text, Limit: *limit}
	if *level != "" {
		parsed, ok := types.ParseLevel(*level)
		if !ok {
			return fmt.Errorf("invalid -level %q", *level)
		}
		query.Level = parsed
	}

	events, err := client.Events(ctx, query)
	if err != nil {
		return err
	}

	for _, event := range events {
		fmt.Printf("%s %-7s %s\n", event.Timestamp.Format(time.RFC3339), event.Level.Label(), event.Message)
	}
	return nil
}
