package jsvm

import (
	"time"

	"go.uber.org/zap"

	"github.com/livetemplate/tinkerpen"
)

// Config defines sandbox configuration.
type Config struct {
	Timeout    time.Duration // Budget for one Load or Dispatch
	MaxTimers  int           // Timer callbacks drained per Load or Dispatch
	BridgeName string        // Message type used for watchdog reports
	Logger     *zap.Logger
}

// DefaultConfig returns the default sandbox configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:    2 * time.Second,
		MaxTimers:  1000,
		BridgeName: tinkerpen.DefaultBridgeName,
	}
}

// BridgeFunc receives the messages a guest posts to its parent frame.
type BridgeFunc func(msg tinkerpen.BridgeMessage)
