package configs

import (
	"errors"
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ClientEnvPrefix prefixes the terminal client's environment variables, e.g.
// RELAYCHAT_SERVER.
const ClientEnvPrefix = "relaychat"

// ClientConfig configures the terminal client.
type ClientConfig struct {
	Server   string `mapstructure:"server"`
	Email    string `mapstructure:"email"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	Register bool   `mapstructure:"register"`
	Verbose  bool   `mapstructure:"verbose"`
}

func clientFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("chatcli", pflag.ContinueOnError)
	fs.String("server", "http://localhost:8080", "server base URL")
	fs.String("email", "", "account email")
	fs.String("password", "", "account password")
	fs.String("name", "", "display name, used with --register")
	fs.Bool("register", false, "create the account before signing in")
	fs.Bool("verbose", false, "log debug output")
	return fs
}

// LoadClientConfig merges command-line flags over RELAYCHAT_* environment variables.
func LoadClientConfig(args []string) (*ClientConfig, error) {
	fs := clientFlags()
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(ClientEnvPrefix)
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	cfg := &ClientConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode client configuration: %w", err)
	}

	if cfg.Email == "" || cfg.Password == "" {
		return nil, errors.New("email and password are required (--email/--password or RELAYCHAT_EMAIL/RELAYCHAT_PASSWORD)")
	}
	if cfg.Register && cfg.Name == "" {
		return nil, errors.New("--name is required with --register")
	}

	return cfg, nil
}
