package cli

import (
	"sync"

	"agentcore/internal/config"
	"agentcore/internal/storage"
)

// CLIContext carries what the root command loaded to its subcommands.
type CLIContext struct {
	Config      *config.Config
	ConfigPath  string
	StoragePath string
	Verbose     bool
	Quiet       bool

	storageOnce sync.Once
	storage     *storage.DB
	storageErr  error
}

// NewCLIContext creates a CLI context.
func NewCLIContext(cfg *config.Config, configPath, storagePath string, verbose, quiet bool) *CLIContext {
	return &CLIContext{
		Config:      cfg,
		ConfigPath:  configPath,
		StoragePath: storagePath,
		Verbose:     verbose,
		Quiet:       quiet,
	}
}

// GetStorage opens the checkpoint store on first use.
func (c *CLIContext) GetStorage() (*storage.DB, error) {
	c.storageOnce.Do(func() {
		c.storage, c.storageErr = storage.Open(c.StoragePath)
	})
	return c.storage, c.storageErr
}

// Close releases the store.
func (c *CLIContext) Close() error {
	if c.storage != nil {
		return c.storage.Close()
	}
	return nil
}
