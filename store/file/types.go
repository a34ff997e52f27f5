package filestore

import (
	"strconv"
	"time"

	"github.com/arkade-os/arkive/internal/utils"
	"github.com/arkade-os/arkive/types"
)

type storeData struct {
	Network          string `json:"network"           mapstructure:"network"`
	ServerUrl        string `json:"server_url"        mapstructure:"server_url"`
	ServerTransport  string `json:"server_transport"  mapstructure:"server_transport"`
	ExplorerURL      string `json:"explorer_url"      mapstructure:"explorer_url"`
	DeviceID         string `json:"device_id"         mapstructure:"device_id"`
	SyncInterval     string `json:"sync_interval"     mapstructure:"sync_interval"`
	RemoteTimeout    string `json:"remote_timeout"    mapstructure:"remote_timeout"`
	MaxRetries       string `json:"max_retries"       mapstructure:"max_retries"`
	BoardingPolicy   string `json:"boarding_policy"   mapstructure:"boarding_policy"`
	RenewalThreshold string `json:"renewal_threshold" mapstructure:"renewal_threshold"`
	WithBlockFeed    string `json:"with_block_feed"   mapstructure:"with_block_feed"`
}

func (d storeData) isEmpty() bool {
	if d.ServerUrl == "" &&
		d.Network == "" {
		return true
	}

	return false
}

func (d storeData) decode() types.Config {
	network := utils.NetworkFromString(d.Network)
	syncInterval, _ := strconv.Atoi(d.SyncInterval)
	remoteTimeout, _ := strconv.Atoi(d.RemoteTimeout)
	maxRetries, _ := strconv.Atoi(d.MaxRetries)
	renewalThreshold, _ := strconv.Atoi(d.RenewalThreshold)
	withBlockFeed, _ := strconv.ParseBool(d.WithBlockFeed)

	return types.Config{
		Network:          network,
		ServerUrl:        d.ServerUrl,
		ServerTransport:  d.ServerTransport,
		ExplorerURL:      d.ExplorerURL,
		DeviceID:         d.DeviceID,
		SyncInterval:     time.Duration(syncInterval) * time.Second,
		RemoteTimeout:    time.Duration(remoteTimeout) * time.Second,
		MaxRetries:       maxRetries,
		BoardingPolicy:   types.BoardingPolicy(d.BoardingPolicy),
		RenewalThreshold: time.Duration(renewalThreshold) * time.Second,
		WithBlockFeed:    withBlockFeed,
	}
}

func (d storeData) asMap() map[string]any {
	return map[string]any{
		"network":           d.Network,
		"server_url":        d.ServerUrl,
		"server_transport":  d.ServerTransport,
		"explorer_url":      d.ExplorerURL,
		"device_id":         d.DeviceID,
		"sync_interval":     d.SyncInterval,
		"remote_timeout":    d.RemoteTimeout,
		"max_retries":       d.MaxRetries,
		"boarding_policy":   d.BoardingPolicy,
		"renewal_threshold": d.RenewalThreshold,
		"with_block_feed":   d.WithBlockFeed,
	}
}

func fromConfig(cfg types.Config) storeData {
	return storeData{
		Network:          cfg.Network.Name,
		ServerUrl:        cfg.ServerUrl,
		ServerTransport:  cfg.ServerTransport,
		ExplorerURL:      cfg.ExplorerURL,
		DeviceID:         cfg.DeviceID,
		SyncInterval:     strconv.Itoa(int(cfg.SyncInterval.Seconds())),
		RemoteTimeout:    strconv.Itoa(int(cfg.RemoteTimeout.Seconds())),
		MaxRetries:       strconv.Itoa(cfg.MaxRetries),
		BoardingPolicy:   string(cfg.BoardingPolicy),
		RenewalThreshold: strconv.Itoa(int(cfg.RenewalThreshold.Seconds())),
		WithBlockFeed:    strconv.FormatBool(cfg.WithBlockFeed),
	}
}
