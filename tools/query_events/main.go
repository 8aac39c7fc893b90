package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"notification-inspector/internal/config"
	"notification-inspector/internal/events"
	"notification-inspector/internal/viewer"
)

func main() {
	addr := flag.String("addr", "", "viewer address (defaults to listen_addr from config)")
	id := flag.Int64("id", -1, "show one event in detail")
	key := flag.String("key", "", "show the newest event with this notification key")
	limit := flag.Int("limit", 20, "number of events to list")
	clearAll := flag.Bool("clear", false, "clear all captured events")
	status := flag.Bool("status", false, "show connection status")
	export := flag.String("export", "", "read events from an export file instead of the agent")
	asJSON := flag.Bool("json", false, "print JSON")
	flag.Parse()

	if *export != "" {
		if err := listExport(*export, *limit, *asJSON); err != nil {
			fmt.Fprintln(os.Stderr, "read export:", err)
			os.Exit(1)
		}
		return
	}

	base := *addr
	if base == "" {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintln(os.Stderr, "failed to load config:", err)
			os.Exit(1)
		}
		base = cfg.ListenAddr
	}
	base = "http://" + base
	client := &http.Client{Timeout: 10 * time.Second}

	var err error
	switch {
	case *clearAll:
		err = do(client, http.MethodDelete, base+"/events", false, os.Stdout)
		if err == nil {
			fmt.Println("cleared")
		}
	case *status:
		var st viewer.Status
		if err = getJSON(client, base+"/status", &st); err == nil {
			fmt.Printf("%s (enabled=%v connected=%v) %s captured\n", st.State, st.Enabled, st.Connected, humanize.Comma(int64(st.Count)))
		}
	case *id >= 0:
		err = do(client, http.MethodGet, base+"/events/"+strconv.FormatInt(*id, 10), !*asJSON, os.Stdout)
	case *key != "":
		err = do(client, http.MethodGet, base+"/events?key="+url.QueryEscape(*key), !*asJSON, os.Stdout)
	default:
		err = do(client, http.MethodGet, base+"/events?limit="+strconv.Itoa(*limit), !*asJSON, os.Stdout)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func do(client *http.Client, method, u string, text bool, out io.Writer) error {
	req, err := http.NewRequest(method, u, nil)
	if err != nil {
		return err
	}
	if text {
		req.Header.Set("Accept", "text/plain")
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("%s %s: %d %s", method, u, resp.StatusCode, e.Error)
	}
	_, err = io.Copy(out, resp.Body)
	return err
}

func getJSON(client *http.Client, u string, v any) error {
	resp, err := client.Get(u)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("GET %s: %d", u, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func listExport(path string, limit int, asJSON bool) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	x, err := events.OpenExport(path)
	if err != nil {
		return err
	}
	defer x.Close()
	evts, err := x.List(context.Background(), limit)
	if err != nil {
		return err
	}
	if asJSON {
		b, _ := json.MarshalIndent(evts, "", "  ")
		fmt.Println(string(b))
		return nil
	}
	fmt.Print(viewer.ListText(evts, time.Now()))
	return nil
}
