// streamwatch tails one coin's price stream from a running dashboard server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AlgoriThai07/crypto-indicators-dashboard/pkg/streamclient"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "dashboard server base URL")
	coin := flag.String("coin", "bitcoin", "coin id to watch")
	retry := flag.Duration("retry", 3*time.Second, "minimum reconnect delay")
	flag.Parse()

	url := fmt.Sprintf("%s/api/stream/%s", *server, *coin)

	client := streamclient.New(url, *retry, func(msg streamclient.Message) {
		switch {
		case msg.Data != nil:
			tag := ""
			if msg.Data.Cached {
				tag = " (cached)"
			}
			fmt.Printf("%s  %s  $%.2f  %+.2f%%%s\n",
				msg.Timestamp.Format(time.RFC3339), msg.Type, msg.Data.Price, msg.Data.Change24h, tag)
		case msg.Message != "":
			fmt.Printf("%s  %s  %s\n", msg.Timestamp.Format(time.RFC3339), msg.Type, msg.Message)
		default:
			fmt.Printf("%s  %s\n", msg.Timestamp.Format(time.RFC3339), msg.Type)
		}
	}, func(state streamclient.State) {
		fmt.Fprintf(os.Stderr, "-- %s\n", state)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client.Start(ctx)
	<-ctx.Done()
	client.Stop()
}
