package main

import (
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"warden/internal/control"
)

const (
	ansiReset = "\x1b[0m"
	ansiRed   = "\x1b[31m"
	ansiGreen = "\x1b[32m"
)

// printReply writes every informational line of a daemon reply,
// dropping the sentinel.
func printReply(out io.Writer, result *control.Result) {
	if result == nil {
		return
	}
	for _, line := range result.Lines {
		if _, _, matched := control.ParseSentinel(line); matched {
			continue
		}
		fmt.Fprintln(out, line)
	}
}

// replyError surfaces the daemon's informational lines before the verb
// fails, so a refusal's explanation is not lost.
func replyError(out io.Writer, result *control.Result, err error) error {
	printReply(out, result)
	return err
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func colorState(state string, colorize bool) string {
	if !colorize {
		return state
	}
	switch state {
	case "running":
		return ansiGreen + state + ansiReset
	case "stopped":
		return ansiRed + state + ansiReset
	default:
		return state
	}
}

func renderTable(headers []string, rows [][]string) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       text.AlignLeft,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}
