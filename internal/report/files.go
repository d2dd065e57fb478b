package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// WriteReportFile stores content verbatim as <dir>/digest_<channel>_<date>.txt
// and returns the path written.
func WriteReportFile(content, outputDir string, reportDate time.Time, channelName string) (string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", err
	}
	filename := fmt.Sprintf("digest_%s_%s.txt", sanitizeFilename(channelName), reportDate.Format("20060102"))
	path := filepath.Join(outputDir, filename)
	return path, os.WriteFile(path, []byte(content), 0644)
}

func sanitizeFilename(s string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "*", "_", "?", "_", "\"", "_", "<", "_", ">", "_", "|", "_", "#", "")
	out := strings.TrimLeft(replacer.Replace(strings.TrimSpace(s)), ".")
	if out == "" {
		return "channel"
	}
	return out
}
