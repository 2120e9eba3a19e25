package config

import (
	"net"
	"strconv"
	"time"
)

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Transfer  TransferConfig
	Gateway   GatewayConfig
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type TransportConfig struct {
	SendBuffer   int           `mapstructure:"sendBuffer"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
}

type TransferConfig struct {
	// MaxFileBytes rejects a transfer at announce time, before any data
	// socket is opened for it.
	MaxFileBytes int64 `mapstructure:"maxFileBytes"`
	// IdleTimeout bounds every read and write on a data connection.
	IdleTimeout time.Duration `mapstructure:"idleTimeout"`
	// ClaimWait is how long a receiver's data connection waits for the
	// sender's upload to finish staging.
	ClaimWait time.Duration `mapstructure:"claimWait"`
	// PendingTTL evicts an announced transfer nobody claimed.
	PendingTTL time.Duration `mapstructure:"pendingTTL"`
	StagingDir string        `mapstructure:"stagingDir"`
}

type GatewayConfig struct {
	// Address enables the WebSocket gateway when non-empty.
	Address string `mapstructure:"address"`
}

// ControlAddr is the address of the control listener.
func (s ServerConfig) ControlAddr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// DataAddr is the address of the data listener, always control port + 1.
func (s ServerConfig) DataAddr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port+1))
}
