package main

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-patchbay/internal/auth"
	"github.com/nerrad567/gray-logic-patchbay/internal/infrastructure/config"
)

const (
	defaultConfigPath = "configs/config.yaml"

	// cliTokenTTLMinutes is the lifetime of tokens the CLI mints for itself.
	cliTokenTTLMinutes = 5
	cliSubject         = "cli"
)

type commandContext struct {
	configFlag *string
	tokenFlag  *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, tokenFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		tokenFlag:  tokenFlag,
	}
}

func (c *commandContext) configPath() string {
	if c.configFlag != nil {
		if path := strings.TrimSpace(*c.configFlag); path != "" {
			return path
		}
	}
	if path := os.Getenv("PATCHBAY_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		path := c.configPath()
		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = fmt.Errorf("loading config %s: %w", path, err)
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// bearerToken returns the explicit token if one was given, otherwise a
// short-lived admin token signed with the configured secret.
func (c *commandContext) bearerToken(cfg *config.Config) (string, error) {
	if c.tokenFlag != nil {
		if token := strings.TrimSpace(*c.tokenFlag); token != "" {
			return token, nil
		}
	}
	if token := os.Getenv("PATCHBAY_TOKEN"); token != "" {
		return token, nil
	}
	token, err := auth.GenerateAccessToken(cliSubject, auth.RoleAdmin, cfg.Security.JWT.Secret, cliTokenTTLMinutes)
	if err != nil {
		return "", fmt.Errorf("minting CLI token: %w", err)
	}
	return token, nil
}

// withClient builds an API client for the configured daemon.
func (c *commandContext) withClient(fn func(*apiClient) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	token, err := c.bearerToken(cfg)
	if err != nil {
		return err
	}
	return fn(newAPIClient(cfg.APIBaseURL(), token))
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
