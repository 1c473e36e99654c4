package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/grandcat/zeroconf"
)

const (
	mdnsServiceType = "_parkinglot._tcp"
	mdnsDomain      = "local."
)

// startMDNS advertises the HTTP API so lot kiosks can discover the server.
func (a *App) startMDNS(port int) error {
	if port <= 0 {
		return fmt.Errorf("invalid port %d", port)
	}

	a.stopMDNS()

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "parking"
	}

	instance := sanitizeMDNSInstance(fmt.Sprintf("Parking Server (%s)", a.cfg.InstanceID))
	txt := []string{
		fmt.Sprintf("http_port=%d", port),
		fmt.Sprintf("instance=%s", a.cfg.InstanceID),
		fmt.Sprintf("currency=%s", a.cfg.Currency),
		fmt.Sprintf("host=%s.local", sanitizeMDNSHost(hostname)),
		"api=/api",
		"proto=v1",
	}

	server, err := zeroconf.Register(instance, mdnsServiceType, mdnsDomain, port, txt, nil)
	if err != nil {
		return fmt.Errorf("register mdns service: %w", err)
	}

	a.mdns = server
	a.logger.Info("mDNS advertisement started", "instance", instance, "port", port)
	return nil
}

func (a *App) stopMDNS() {
	if a.mdns == nil {
		return
	}

	a.mdns.Shutdown()
	a.logger.Info("mDNS advertisement stopped")
	a.mdns = nil
}

func sanitizeMDNSInstance(name string) string {
	cleaned := strings.NewReplacer("\n", " ", "\r", " ", ".", " ", "_", " ").Replace(strings.TrimSpace(name))
	if strings.TrimSpace(cleaned) == "" {
		cleaned = "Parking Server"
	}
	return truncateRunes(cleaned, 63)
}

func sanitizeMDNSHost(name string) string {
	cleaned := strings.TrimSuffix(strings.TrimSpace(strings.ToLower(name)), ".local")
	cleaned = strings.NewReplacer(" ", "-", "_", "-", ".", "-", "\n", "", "\r", "").Replace(cleaned)
	if cleaned == "" {
		cleaned = "parking"
	}
	// Host labels must be <=63 characters.
	return truncateRunes(cleaned, 63)
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
