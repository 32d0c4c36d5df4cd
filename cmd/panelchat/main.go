// Command panelchat is a terminal client for the aggregation service. It
// posts one message, demultiplexes the merged stream into windows and prints
// each window's conversation when the stream ends.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/panelchat/panelchat/internal/config"
	"github.com/panelchat/panelchat/internal/demux"
	"github.com/panelchat/panelchat/internal/source"
)

func main() {
	addr := flag.String("addr", "http://localhost:5000", "server base URL")
	message := flag.String("message", "", "message to send (required)")
	sources := flag.String("sources", "", "comma-separated source identities; empty selects all")
	table := flag.String("map", "", "source=window overrides, comma-separated")
	timeout := flag.Duration("timeout", 150*time.Second, "overall client budget")
	verbose := flag.Bool("v", false, "log decoder diagnostics")
	flag.Parse()

	if strings.TrimSpace(*message) == "" {
		fmt.Fprintln(os.Stderr, "usage: panelchat -message \"...\" [-sources llama,openai]")
		os.Exit(2)
	}

	var logger *log.Logger
	if *verbose {
		logger = log.New(os.Stderr, "[panelchat] ", log.LstdFlags)
	}

	selected := splitList(*sources)
	routing := buildTable(*table)
	d := demux.New(routing, logger)
	// Restricting the turn to the selected sources keeps unselected windows
	// quiet when the server closes the stream.
	d.BeginTurn(*message, sourceKeys(selected)...)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := stream(ctx, *addr, *message, selected, d); err != nil {
		fmt.Fprintf(os.Stderr, "panelchat: %v\n", err)
	}

	render(d)
}

// stream posts the message and feeds the SSE response through the demux.
func stream(ctx context.Context, addr, message string, selected []string, d *demux.Demux) error {
	payload, err := json.Marshal(map[string]any{
		"message": message,
		"windows": selected,
	})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(addr, "/")+"/chat-stream", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		d.OnTransportFailure(err)
		return fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		d.OnTransportFailure(fmt.Errorf("server returned %s", resp.Status))
		return fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	return d.Run(ctx, resp.Body)
}

// buildTable starts from the stock routing and applies -map overrides.
func buildTable(overrides string) demux.Table {
	routing := make(demux.Table)
	for k, v := range config.DefaultWindows() {
		routing[source.Key(k)] = demux.WindowID(v)
	}
	for _, entry := range splitList(overrides) {
		kv := strings.SplitN(entry, "=", 2)
		if len(kv) != 2 {
			continue
		}
		routing[source.Key(strings.TrimSpace(kv[0]))] = demux.WindowID(strings.TrimSpace(kv[1]))
	}
	return routing
}

func sourceKeys(names []string) []source.Key {
	out := make([]source.Key, 0, len(names))
	for _, n := range names {
		out = append(out, source.Key(n))
	}
	return out
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func render(d *demux.Demux) {
	ids := d.Windows()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, wid := range ids {
		msgs := d.Window(wid)
		if len(msgs) == 0 {
			continue
		}
		fmt.Printf("=== %s ===\n", wid)
		for _, m := range msgs {
			fmt.Printf("%s: %s\n", m.Role, m.Text)
		}
		fmt.Println()
	}
}
