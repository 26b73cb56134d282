// Command sse_load opens many concurrent subscriptions to the martistream SSE endpoints and reports
// how many balance and order events each kind of stream delivered.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

var streamPaths = map[string]string{
	"balances": "/api/v1/balances/stream",
	"orders":   "/api/v1/orders/stream",
}

func main() {
	var (
		baseURL      string
		streams      string
		connections  int
		testDuration time.Duration
		rampUp       time.Duration
		lastEventID  string
	)

	flag.StringVar(&baseURL, "url", "http://localhost:8080", "status api base URL")
	flag.StringVar(&streams, "streams", "balances,orders", "comma separated streams: balances, orders")
	flag.IntVar(&connections, "conns", 100, "concurrent connections per stream")
	flag.DurationVar(&testDuration, "dur", 60*time.Second, "test duration (0 for until interrupted)")
	flag.DurationVar(&rampUp, "ramp", time.Second, "spread connection starts across this window")
	flag.StringVar(&lastEventID, "last-event-id", "", "Last-Event-ID sent to the orders stream")
	flag.Parse()

	if connections <= 0 {
		log.Fatalf("invalid conns: %d", connections)
	}

	targets, err := resolveTargets(baseURL, streams)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if testDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, testDuration)
		defer cancel()
	}

	client := &http.Client{
		Transport: &http.Transport{
			MaxConnsPerHost:     connections*len(targets) + 100,
			MaxIdleConnsPerHost: connections*len(targets) + 100,
			DisableCompression:  true,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		},
	}

	log.Printf("starting SSE load: streams=%v conns=%d duration=%s ramp=%s", targets, connections, testDuration, rampUp)

	stats := newStats()
	start := time.Now()

	var wg sync.WaitGroup
	interval := rampUp / time.Duration(connections)
	for i := 0; i < connections && ctx.Err() == nil; i++ {
		for name, target := range targets {
			wg.Add(1)
			go func() {
				defer wg.Done()
				subscribe(ctx, client, name, target, lastEventID, stats)
			}()
		}
		if interval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(interval):
			}
		}
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				log.Printf("status: %s elapsed=%s", stats, time.Since(start).Truncate(time.Second))
			}
		}
	}()

	wg.Wait()

	fmt.Printf("done: %s elapsed=%s\n", stats, time.Since(start).Truncate(time.Millisecond))
}

func resolveTargets(baseURL, streams string) (map[string]string, error) {
	targets := make(map[string]string)
	for _, name := range strings.Split(streams, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		path, ok := streamPaths[name]
		if !ok {
			return nil, errors.Errorf("unknown stream %q", name)
		}
		targets[name] = strings.TrimRight(baseURL, "/") + path
	}
	if len(targets) == 0 {
		return nil, errors.New("no streams selected")
	}
	return targets, nil
}

func subscribe(ctx context.Context, client *http.Client, name, target, lastEventID string, st *stats) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		st.connectErr(name)
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	if lastEventID != "" && name == "orders" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}

	resp, err := client.Do(req)
	if err != nil {
		st.connectErr(name)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		st.connectErr(name)
		return
	}

	st.connected(name)
	if err := readEvents(resp.Body, func(event string) { st.event(name, event) }); err != nil && ctx.Err() == nil {
		st.streamErr(name)
	}
}
