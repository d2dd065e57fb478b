package digest

import (
	"fmt"
	"strings"
)

// FormatRunSummary returns a human-readable line per channel run.
func FormatRunSummary(results []RunResult) string {
	if len(results) == 0 {
		return "No channels to digest."
	}
	var lines []string
	ok := 0
	for _, res := range results {
		name := res.Result.Channel.Name
		if name == "" {
			name = res.ChannelID
		}
		if res.Err != nil {
			lines = append(lines, fmt.Sprintf("❌ #%s: %v", name, res.Err))
			continue
		}
		ok++
		if res.Result.Stats.Total == 0 {
			lines = append(lines, fmt.Sprintf("➖ #%s: no messages, nothing sent", name))
			continue
		}
		line := fmt.Sprintf("✅ #%s: %d messages", name, res.Result.Stats.Total)
		if res.FilePath != "" {
			line += " → " + res.FilePath
		}
		if len(res.Delivered) > 0 {
			line += fmt.Sprintf(" (delivered: %s)", strings.Join(res.Delivered, ", "))
		}
		lines = append(lines, line)
		for _, err := range res.Errors {
			lines = append(lines, fmt.Sprintf("   ⚠️ %v", err))
		}
	}
	header := fmt.Sprintf("Digest run: %d of %d channels succeeded", ok, len(results))
	return header + "\n" + strings.Join(lines, "\n")
}
