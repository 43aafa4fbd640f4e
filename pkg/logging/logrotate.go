package logging

import (
	"fmt"
	"path/filepath"
)

// GenerateLogrotateConfig returns a logrotate stanza for the log file at
// path, or for the component's default log path when path is empty.
func GenerateLogrotateConfig(component, path string) string {
	if path == "" {
		path = GetLogPath(component)
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return fmt.Sprintf(`# usm-hourly %[1]s
# sudo cp <this file> /etc/logrotate.d/usm-hourly-%[1]s

%[2]s {
    daily
    rotate 14
    maxsize 10M
    compress
    delaycompress
    missingok
    notifempty
    copytruncate
}
`, component, path)
}
