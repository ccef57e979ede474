// Package paths lays out the files of an echovaultd home directory.
package paths

import (
	"os"
	"path/filepath"
)

// EnvHome overrides the default home directory.
const EnvHome = "ECHOVAULT_HOME"

// DefaultHome returns ~/.echovault.
func DefaultHome() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".echovault")
}

// Resolve determines the home directory using precedence:
// 1. flagOverride (--home flag)
// 2. $ECHOVAULT_HOME
// 3. ~/.echovault
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if env := os.Getenv(EnvHome); env != "" {
		return env
	}
	return DefaultHome()
}

// SocketPath returns the gRPC control socket path.
func SocketPath(home string) string {
	return filepath.Join(home, "echovaultd.sock")
}

// LockPath returns the instance lock file path.
func LockPath(home string) string {
	return filepath.Join(home, "LOCK")
}

// DBPath returns the default SQLite application database path.
func DBPath(home string) string {
	return filepath.Join(home, "echovault.db")
}

// WhatsAppDBPath returns the whatsmeow device store path.
func WhatsAppDBPath(home string) string {
	return filepath.Join(home, "whatsapp.db")
}

// AttachmentsDir returns the local attachment storage root.
func AttachmentsDir(home string) string {
	return filepath.Join(home, "attachments")
}

// LogDir returns the log directory.
func LogDir(home string) string {
	return filepath.Join(home, "logs")
}

// LogPath returns the daemon log file path.
func LogPath(home string) string {
	return filepath.Join(LogDir(home), "echovaultd.log")
}

// ConfigPath returns the config file path.
func ConfigPath(home string) string {
	return filepath.Join(home, "config.toml")
}

// EnvPath returns the optional dotenv file path.
func EnvPath(home string) string {
	return filepath.Join(home, ".env")
}

// EnsureDir creates the home directory tree with proper permissions.
func EnsureDir(home string) error {
	for _, d := range []string{home, LogDir(home), AttachmentsDir(home)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
