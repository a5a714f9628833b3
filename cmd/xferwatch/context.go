package main

import (
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/xferwatch/xferwatch/internal/config"
	"github.com/xferwatch/xferwatch/internal/logging"
	"github.com/xferwatch/xferwatch/internal/relay"
	"github.com/xferwatch/xferwatch/internal/tail"
	"github.com/xferwatch/xferwatch/internal/whmapi"
)

type commandContext struct {
	configFlag   *string
	logLevelFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.LoadOrDefault(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.logLevelFlag != nil && *c.logLevelFlag != "" {
			cfg.Log.Level = *c.logLevelFlag
		}
		if err := cfg.Validate(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// logger writes to w, normally the command's stderr.
func (c *commandContext) logger(w io.Writer) (*zap.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: w,
	})
}

// connect validates the server settings and dials the WHM API.
func (c *commandContext) connect(logger *zap.Logger) (*whmapi.Client, *tail.HTTPTransport, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.ValidateServer(); err != nil {
		return nil, nil, err
	}
	return relay.Connect(cfg, logger)
}
