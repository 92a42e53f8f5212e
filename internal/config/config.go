// Package config loads QuickShare's runtime configuration: explicit
// Options override environment variables, which override hardcoded
// defaults. Nothing here is persisted across runs.
package config

import (
	"fmt"
	"os"

	"github.com/emirgocuk/quickshare/internal/utils"
)

// Default configuration values.
const (
	DefaultRendezvousURL  = "https://rendezvous.quickshare.example/api"
	DefaultSTUN           = "stun:stun.l.google.com:19302"
	DefaultTunnelBinary   = "cloudflared"
	DefaultTunnelURLRegex = `https://[a-zA-Z0-9-]+\.trycloudflare\.com`
	DefaultHistoryPath    = "quickshare_history.json"
	DefaultHistoryCap     = 200
)

// Config holds the resolved configuration for one process.
type Config struct {
	// RendezvousURL is the base URL of the HTTP long-poll relay.
	RendezvousURL string

	// ICE servers for WebRTC.
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	// TunnelBinary is the executable invoked by TunnelSupervisor; its argv
	// is fixed by the tunnel child-process contract.
	TunnelBinary   string
	TunnelURLRegex string

	// HistoryPath is where the History ledger is persisted.
	HistoryPath string
	HistoryCap  int
}

// Options carries explicit overrides (e.g. from a UI's settings screen),
// which take priority over environment variables.
type Options struct {
	RendezvousURL  string
	STUNServer     string
	TURNServer     string
	TURNUser       string
	TURNPass       string
	ForceRelay     bool
	TunnelBinary   string
	TunnelURLRegex string
	HistoryPath    string
}

// Load resolves configuration: Options > environment variable > default.
func Load(opts Options) (*Config, error) {
	rendezvousURL := firstNonEmpty(opts.RendezvousURL, os.Getenv("QUICKSHARE_RENDEZVOUS_URL"), DefaultRendezvousURL)
	stunServer := firstNonEmpty(opts.STUNServer, os.Getenv("QUICKSHARE_STUN_SERVER"), DefaultSTUN)
	turnServer := firstNonEmpty(opts.TURNServer, os.Getenv("QUICKSHARE_TURN_SERVER"), "")
	turnUser := firstNonEmpty(opts.TURNUser, os.Getenv("QUICKSHARE_TURN_USERNAME"), "")
	turnPass := firstNonEmpty(opts.TURNPass, os.Getenv("QUICKSHARE_TURN_PASSWORD"), "")
	tunnelBinary := firstNonEmpty(opts.TunnelBinary, os.Getenv("QUICKSHARE_TUNNEL_BINARY"), DefaultTunnelBinary)
	tunnelRegex := firstNonEmpty(opts.TunnelURLRegex, os.Getenv("QUICKSHARE_TUNNEL_URL_REGEX"), DefaultTunnelURLRegex)
	historyPath := firstNonEmpty(opts.HistoryPath, os.Getenv("QUICKSHARE_HISTORY_PATH"), DefaultHistoryPath)

	forceRelay := opts.ForceRelay
	if !forceRelay {
		if v := os.Getenv("QUICKSHARE_FORCE_RELAY"); v == "1" || v == "true" {
			forceRelay = true
		}
	}

	// Neither an explicit override nor the environment asked for relay;
	// auto-detect whether we're behind a VPN/CGNAT interface where direct
	// ICE candidates are unlikely to be reachable anyway.
	if !forceRelay && turnServer != "" && utils.ShouldForceRelay() {
		forceRelay = true
	}

	if forceRelay && turnServer == "" {
		return nil, fmt.Errorf("config: cannot force relay mode without a TURN server configured")
	}

	return &Config{
		RendezvousURL:  rendezvousURL,
		STUNServer:     stunServer,
		TURNServer:     turnServer,
		TURNUser:       turnUser,
		TURNPass:       turnPass,
		ForceRelay:     forceRelay,
		TunnelBinary:   tunnelBinary,
		TunnelURLRegex: tunnelRegex,
		HistoryPath:    historyPath,
		HistoryCap:     DefaultHistoryCap,
	}, nil
}

// GetSTUNServers returns STUN server URLs for the WebRTC ICE configuration.
func (c *Config) GetSTUNServers() []string {
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs, or nil if none is configured.
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("%s:3478?transport=udp", c.TURNServer),
		fmt.Sprintf("%s:3478?transport=tcp", c.TURNServer),
		fmt.Sprintf("turns:%s:5349?transport=tcp", c.TURNServer),
	}
}

// GetTURNCredentials returns the TURN username and password.
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
