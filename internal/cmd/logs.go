package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskferry/taskferry/internal/config"
	"github.com/taskferry/taskferry/internal/logging"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View run logs",
	Long: `View and filter the taskferry log file.

Requires file logging (logging.file in the configuration). Use flags
to filter and format the output.

Examples:
  # Show last 50 lines
  taskferry logs

  # Show everything
  taskferry logs -n 0

  # Follow logs in real-time
  taskferry logs -f

  # Filter by log level
  taskferry logs --level warn

  # Show logs from the last hour
  taskferry logs --since 1h

  # Search for specific patterns
  taskferry logs --grep "oversized|retry"`,
	RunE: runLogs,
}

var (
	logsTail   int
	logsFollow bool
	logsLevel  string
	logsSince  string
	logsGrep   string
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of lines to show (0 for all)")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show logs since duration ago (e.g., 1h, 30m)")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Filter logs matching pattern (regex)")
}

// logEntry represents a parsed JSON log line
type logEntry struct {
	Time      time.Time      `json:"time"`
	Level     string         `json:"level"`
	Msg       string         `json:"msg"`
	RunID     string         `json:"run_id,omitempty"`
	JobID     string         `json:"job_id,omitempty"`
	Component string         `json:"component,omitempty"`
	Window    string         `json:"window,omitempty"`
	Extra     map[string]any `json:"-"` // Captures additional fields
}

// UnmarshalJSON implements custom unmarshaling to capture extra fields
func (e *logEntry) UnmarshalJSON(data []byte) error {
	// First, unmarshal known fields using a type alias to avoid recursion
	type Alias logEntry
	aux := &struct {
		*Alias
	}{
		Alias: (*Alias)(e),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	// Then unmarshal all fields to capture extras
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}

	// Remove known fields, keep the rest as extra
	delete(all, "time")
	delete(all, "level")
	delete(all, "msg")
	delete(all, "run_id")
	delete(all, "job_id")
	delete(all, "component")
	delete(all, "window")

	if len(all) > 0 {
		e.Extra = all
	}

	return nil
}

// ANSI color codes for terminal output
const (
	colorReset  = "\033[0m"
	colorGray   = "\033[90m"
	colorBlue   = "\033[34m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorCyan   = "\033[36m"
)

// levelColor returns the ANSI color code for a log level
func levelColor(level string) string {
	switch strings.ToUpper(level) {
	case logging.LevelDebug:
		return colorGray
	case logging.LevelInfo:
		return colorBlue
	case logging.LevelWarn:
		return colorYellow
	case logging.LevelError:
		return colorRed
	default:
		return colorReset
	}
}

// levelPriority returns the priority of a log level for filtering
func levelPriority(level string) int {
	switch strings.ToUpper(level) {
	case logging.LevelDebug:
		return 0
	case logging.LevelInfo:
		return 1
	case logging.LevelWarn:
		return 2
	case logging.LevelError:
		return 3
	default:
		return -1
	}
}

// formatLogEntry formats a log entry for terminal output
func formatLogEntry(entry *logEntry) string {
	var sb strings.Builder

	// Timestamp
	sb.WriteString(colorGray)
	sb.WriteString("[")
	sb.WriteString(entry.Time.Format("15:04:05.000"))
	sb.WriteString("]")
	sb.WriteString(colorReset)

	// Level with color
	sb.WriteString(" ")
	sb.WriteString(levelColor(entry.Level))
	sb.WriteString("[")
	sb.WriteString(strings.ToUpper(entry.Level))
	sb.WriteString("]")
	sb.WriteString(colorReset)

	// Message
	sb.WriteString(" ")
	sb.WriteString(entry.Msg)

	// Context fields (run_id, component, window)
	if entry.RunID != "" {
		sb.WriteString(" ")
		sb.WriteString(colorCyan)
		sb.WriteString("run_id=")
		sb.WriteString(entry.RunID)
		sb.WriteString(colorReset)
	}
	if entry.Component != "" {
		sb.WriteString(" ")
		sb.WriteString(colorCyan)
		sb.WriteString("component=")
		sb.WriteString(entry.Component)
		sb.WriteString(colorReset)
	}
	if entry.Window != "" {
		sb.WriteString(" ")
		sb.WriteString(colorCyan)
		sb.WriteString("window=")
		sb.WriteString(entry.Window)
		sb.WriteString(colorReset)
	}

	// Extra fields
	for key, value := range entry.Extra {
		sb.WriteString(" ")
		sb.WriteString(colorCyan)
		sb.WriteString(key)
		sb.WriteString("=")
		sb.WriteString(colorReset)
		sb.WriteString(fmt.Sprintf("%v", value))
	}

	return sb.String()
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	logPath := cfg.Logging.File
	if logPath == "" {
		fmt.Println("File logging is not enabled.")
		fmt.Println("Set logging.file in the configuration (or TASKFERRY_LOGGING_FILE) to capture run logs.")
		return nil
	}

	fmt.Printf("Log file: %s\n\n", logPath)

	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		fmt.Println("No logs written yet.")
		return nil
	}

	// Parse filter options
	minLevel := -1
	if logsLevel != "" {
		minLevel = levelPriority(logging.ParseLevel(logsLevel))
	}

	var sinceTime time.Time
	if logsSince != "" {
		duration, err := time.ParseDuration(logsSince)
		if err != nil {
			return fmt.Errorf("invalid duration format: %w", err)
		}
		sinceTime = time.Now().Add(-duration)
	}

	var grepRegex *regexp.Regexp
	if logsGrep != "" {
		var err error
		grepRegex, err = regexp.Compile(logsGrep)
		if err != nil {
			return fmt.Errorf("invalid grep pattern: %w", err)
		}
	}

	// Follow mode
	if logsFollow {
		return followLogs(logPath, minLevel, sinceTime, grepRegex)
	}

	// Non-follow mode: read and display logs
	return displayLogs(logPath, logsTail, minLevel, sinceTime, grepRegex)
}

// displayLogs reads the log file and displays filtered entries
func displayLogs(logPath string, tail int, minLevel int, sinceTime time.Time, grepRegex *regexp.Regexp) error {
	file, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	var entries []string
	scanner := bufio.NewScanner(file)

	// Increase buffer size for potentially long log lines
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		var entry logEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			// Text-format logs are not JSON; display the raw line
			entries = append(entries, line)
			continue
		}

		// Apply filters
		if !passesFilters(&entry, minLevel, sinceTime, grepRegex) {
			continue
		}

		entries = append(entries, formatLogEntry(&entry))
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading log file: %w", err)
	}

	// Apply tail limit
	if tail > 0 && len(entries) > tail {
		entries = entries[len(entries)-tail:]
	}

	// Print entries
	for _, entry := range entries {
		fmt.Println(entry)
	}

	if len(entries) == 0 {
		fmt.Println("No matching log entries found.")
	}

	return nil
}

// followLogs implements tail -f behavior for the log file
func followLogs(logPath string, minLevel int, sinceTime time.Time, grepRegex *regexp.Regexp) error {
	file, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	// Seek to end of file
	_, err = file.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("failed to seek to end: %w", err)
	}

	fmt.Printf("Following logs... (Ctrl+C to stop)\n\n")

	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				// No new data, wait briefly and try again
				time.Sleep(100 * time.Millisecond)
				continue
			}
			return fmt.Errorf("error reading log file: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var entry logEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			fmt.Println(line)
			continue
		}

		// Apply filters
		if !passesFilters(&entry, minLevel, sinceTime, grepRegex) {
			continue
		}

		fmt.Println(formatLogEntry(&entry))
	}
}

// passesFilters checks if a log entry passes all filter criteria
func passesFilters(entry *logEntry, minLevel int, sinceTime time.Time, grepRegex *regexp.Regexp) bool {
	// Level filter
	if minLevel >= 0 && levelPriority(entry.Level) < minLevel {
		return false
	}

	// Time filter
	if !sinceTime.IsZero() && entry.Time.Before(sinceTime) {
		return false
	}

	// Grep filter - search in message and extra fields
	if grepRegex != nil {
		searchText := entry.Msg
		for _, v := range entry.Extra {
			searchText += " " + fmt.Sprintf("%v", v)
		}
		if !grepRegex.MatchString(searchText) {
			return false
		}
	}

	return true
}
