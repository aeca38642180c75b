package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/pelletier/go-toml"

	"git.uuxo.net/uuxo/cpuprobe/internal/config"
	"git.uuxo.net/uuxo/cpuprobe/internal/publish"
)

// reportFleet reads back what every host published.  The Redis section is
// used even when redis.enabled is false: reading does not publish.
func reportFleet(cfg *config.Config, format string, stdout, stderr io.Writer) int {
	pub := publish.NewPublisher(cfg.Redis)
	defer pub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.Redis)
	defer cancel()

	fleet, err := pub.Fleet(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to read fleet: %v\n", err)
		return exitMissing
	}

	switch format {
	case "json":
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		err = enc.Encode(fleet)
	case "toml":
		var out []byte
		out, err = toml.Marshal(struct {
			Hosts []publish.HostFeatures `toml:"hosts"`
		}{fleet})
		if err == nil {
			_, err = stdout.Write(out)
		}
	default:
		for _, h := range fleet {
			_, err = fmt.Fprintf(stdout, "%-24s %-14s %s\n", h.Host, orDash(h.Vendor), orDash(strings.Join(h.Features, " ")))
			if err != nil {
				break
			}
		}
	}
	if err != nil {
		fmt.Fprintf(stderr, "Failed to write fleet report: %v\n", err)
		return exitMissing
	}
	return exitOK
}
