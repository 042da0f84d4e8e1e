package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"voxelpath.ai/internal/observerproto"
)

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "pathsim base url")
	_ = fs.Parse(args)

	cl := &http.Client{Timeout: 5 * time.Second}
	if err := printState(os.Stdout, cl, *baseURL); err != nil {
		fmt.Fprintln(os.Stderr, "state:", err)
		os.Exit(1)
	}
}

// printState prints the run header from the observer bootstrap followed by
// the metrics exposition.
func printState(w io.Writer, cl *http.Client, baseURL string) error {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")

	resp, err := cl.Get(base + "/v1/observer/bootstrap?encoding=rle")
	if err != nil {
		return err
	}
	var boot observerproto.BootstrapResponse
	err = json.NewDecoder(resp.Body).Decode(&boot)
	resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("bootstrap: status %d", resp.StatusCode)
	}
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	fmt.Fprintf(w, "run=%s scenario=%s tick=%d rate=%dHz bounds=%v..%v palette=%d\n",
		boot.RunID, boot.Scenario, boot.Tick, boot.TickRateHz, boot.Min, boot.Max, len(boot.BlockPalette))

	resp, err = cl.Get(base + "/metrics")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("metrics: status %d", resp.StatusCode)
	}
	_, err = io.Copy(w, resp.Body)
	return err
}
