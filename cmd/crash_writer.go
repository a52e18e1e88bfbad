package cmd

import (
	"os"
	"path/filepath"

	"github.com/rackscale/lfs-librarian/cfg"
)

const defaultCrashLogPath = "/var/log/librariand-crash.log"

// CrashWriter appends panic output to a crash log file, opening and
// closing it on every Write so a log-rotation tool can move the file
// out from under a running daemon.
type CrashWriter struct {
	fileName string
}

// crashLogPathFor places the crash log next to the daemon's configured
// log file (same directory, fixed name) so an operator who pointed
// logging somewhere non-default still finds the crash report there;
// falls back to defaultCrashLogPath when logging isn't file-backed.
func crashLogPathFor(lc cfg.LoggingConfig) string {
	if lc.FilePath == "" {
		return defaultCrashLogPath
	}
	return filepath.Join(filepath.Dir(string(lc.FilePath)), "librariand-crash.log")
}

func (w *CrashWriter) Write(p []byte) (n int, err error) {
	f, err := os.OpenFile(w.fileName, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return
	}
	defer f.Close()

	n, err = f.Write(p)
	return
}
