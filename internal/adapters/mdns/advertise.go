// Package mdns announces the signaling endpoint on the local network.
package mdns

import (
	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog/log"
)

const (
	ServiceType = "_intercom._tcp"
	Domain      = "local."
)

// TXT records carried by the announcement.
func TXT(path string) []string {
	return []string{"path=" + path}
}

// StartAdvertising registers instance on port. The returned function stops it.
func StartAdvertising(instance string, port int, path string) (func(), error) {
	server, err := zeroconf.Register(
		instance,
		ServiceType,
		Domain,
		port,
		TXT(path),
		nil,
	)
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "adapters.mdns").Str("instance", instance).Int("port", port).Msg("advertising")
	return server.Shutdown, nil
}
