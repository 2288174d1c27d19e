package config

import (
	"time"

	"loyaltypay/native/loyalty"
	"loyaltypay/rpc"
)

// Loyalty holds the settlement program parameters applied to new records.
type Loyalty struct {
	DefaultThreshold        uint64 `toml:"DefaultThreshold"`
	DefaultRefundPercentage uint8  `toml:"DefaultRefundPercentage"`
	// ClosureAuthority is customer, merchant or either.
	ClosureAuthority string `toml:"ClosureAuthority"`
	DepositPerByte   uint64 `toml:"DepositPerByte"`
}

func (l *Loyalty) applyDefaults() {
	if l.DefaultThreshold == 0 {
		l.DefaultThreshold = loyalty.DefaultThreshold
	}
	if l.DefaultRefundPercentage == 0 {
		l.DefaultRefundPercentage = loyalty.DefaultRefundPercentage
	}
	if l.ClosureAuthority == "" {
		l.ClosureAuthority = string(loyalty.ClosureByCustomer)
	}
	if l.DepositPerByte == 0 {
		l.DepositPerByte = loyalty.DefaultDepositPerByte
	}
}

// Params converts the configured values into runtime parameters.
func (l Loyalty) Params() (loyalty.Params, error) {
	authority, err := loyalty.ParseClosureAuthority(l.ClosureAuthority)
	if err != nil {
		return loyalty.Params{}, err
	}
	params := loyalty.Params{
		DefaultThreshold:        l.DefaultThreshold,
		DefaultRefundPercentage: l.DefaultRefundPercentage,
		ClosureAuthority:        authority,
		DepositPerByte:          l.DepositPerByte,
	}
	if err := params.Validate(); err != nil {
		return loyalty.Params{}, err
	}
	return params, nil
}

// RPCServer returns the JSON-RPC server settings.
func (c *Config) RPCServer() rpc.ServerConfig {
	readHeader, read, write, idle := c.HTTPTimeouts()
	return rpc.ServerConfig{
		AuthToken:         c.RPCAuthToken,
		TxRateLimit:       c.RPCTxRateLimit,
		TxBurst:           c.RPCTxBurst,
		MaxRequestBytes:   c.RPCMaxRequestBytes,
		TrustProxyHeaders: c.RPCTrustProxyHeaders,
		ReadHeaderTimeout: readHeader,
		ReadTimeout:       read,
		WriteTimeout:      write,
		IdleTimeout:       idle,
	}
}

// HTTPTimeouts returns the read header, read, write and idle timeouts.
func (c *Config) HTTPTimeouts() (readHeader, read, write, idle time.Duration) {
	return seconds(c.RPCReadHeaderTimeout), seconds(c.RPCReadTimeout), seconds(c.RPCWriteTimeout), seconds(c.RPCIdleTimeout)
}

// ShutdownTimeout bounds graceful shutdown.
func (c *Config) ShutdownTimeout() time.Duration { return seconds(c.ShutdownTimeoutSeconds) }

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
