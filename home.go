package mlflowbox

import (
	"os"
	"path/filepath"
)

// Home returns the mlflowbox home directory.
// It defaults to ~/.mlflowbox but can be overridden with the MLFLOWBOX_HOME environment variable.
func Home() string {
	if v := os.Getenv("MLFLOWBOX_HOME"); v != "" {
		return v
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".mlflowbox")
}

// DefaultJournalPath returns the default run journal path (~/.mlflowbox/journal.db).
func DefaultJournalPath() string {
	return filepath.Join(Home(), "journal.db")
}
