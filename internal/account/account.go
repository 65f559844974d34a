// Package account lays out the per-account state directory under
// ~/.campuschat. Each account has its own daemon, socket, cache and logs.
package account

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/matheus3301/campuschat/internal/config"
)

// DefaultName is used when neither a flag nor the config names an account.
const DefaultName = "main"

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName checks that name is usable as a directory name.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid account name %q: must match ^[a-z0-9_-]{1,64}$", name)
	}
	return nil
}

// BaseDir returns $CAMPUSCHAT_HOME, or ~/.campuschat.
func BaseDir() string {
	if dir := os.Getenv("CAMPUSCHAT_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".campuschat")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// Paths are the files owned by one account.
type Paths struct {
	Name string
	Dir  string
}

// For returns the paths of the named account.
func For(name string) Paths {
	return Paths{Name: name, Dir: filepath.Join(BaseDir(), "accounts", name)}
}

// Socket is the daemon's unix socket.
func (p Paths) Socket() string { return filepath.Join(p.Dir, "daemon.sock") }

// Lock is the single-instance lock file.
func (p Paths) Lock() string { return filepath.Join(p.Dir, "LOCK") }

// DB is the local contact and message cache.
func (p Paths) DB() string { return filepath.Join(p.Dir, "cache.db") }

// DMHistory holds lines typed at the direct message prompt.
func (p Paths) DMHistory() string { return filepath.Join(p.Dir, "dm_history") }

func (p Paths) LogDir() string { return filepath.Join(p.Dir, "logs") }

func (p Paths) Log() string { return filepath.Join(p.LogDir(), "chatd.log") }

// Ensure creates the account directory tree with owner-only permissions.
func (p Paths) Ensure() error {
	for _, d := range []string{p.Dir, p.LogDir()} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}

// Resolve determines the active account name using precedence:
// 1. flagOverride (--account flag)
// 2. cfg.DefaultAccount (config file or CAMPUSCHAT_ACCOUNT)
// 3. "main"
func Resolve(flagOverride string, cfg *config.Config) string {
	if flagOverride != "" {
		return flagOverride
	}
	if cfg != nil && cfg.DefaultAccount != "" {
		return cfg.DefaultAccount
	}
	return DefaultName
}
