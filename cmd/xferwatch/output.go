package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"github.com/xferwatch/xferwatch/internal/tail"
	"github.com/xferwatch/xferwatch/internal/transfer"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
	ansiDim    = "\x1b[2m"
)

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func recordColor(kind string) string {
	switch kind {
	case "error":
		return ansiRed
	case "warn":
		return ansiYellow
	case "control":
		return ansiBlue
	default:
		return ""
	}
}

func stateColor(s transfer.State) string {
	switch s {
	case transfer.Running:
		return ansiGreen
	case transfer.Pausing, transfer.Paused, transfer.Aborting:
		return ansiYellow
	case transfer.Aborted, transfer.Failed:
		return ansiRed
	case transfer.Completed:
		return ansiBlue
	default:
		return ""
	}
}

func paint(color, s string, colorize bool) string {
	if !colorize || color == "" {
		return s
	}
	return color + s + ansiReset
}

// linePrinter writes records and state changes as they arrive. The tail
// reader and the session call it from their own goroutines.
type linePrinter struct {
	mu       sync.Mutex
	w        io.Writer
	colorize bool
	now      func() time.Time
}

func newLinePrinter(w io.Writer) *linePrinter {
	return &linePrinter{w: w, colorize: shouldColorize(w), now: time.Now}
}

func (p *linePrinter) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

func (p *linePrinter) record(rec tail.Record, logName string) {
	body := rec.Raw
	if msgs := rec.Messages(); len(msgs) > 0 {
		body = msgs[0]
		for _, m := range msgs[1:] {
			body += " " + m
		}
	} else if body == "" {
		body = string(rec.Contents)
	}
	p.printf("%s %-14s %s\n",
		paint(ansiDim, p.now().Format("15:04:05"), p.colorize),
		logName,
		paint(recordColor(rec.Type), body, p.colorize))
}

func (p *linePrinter) state(next, prev transfer.State) {
	p.printf("-- %s -> %s\n", prev, paint(stateColor(next), next.String(), p.colorize))
}

func (p *linePrinter) Alert(header, body string) {
	p.printf("%s %s\n", paint(ansiRed, header+":", p.colorize), body)
}

// Confirm declines: the tail command only follows.
func (p *linePrinter) Confirm(header, _ string, _ func()) {
	p.printf("%s (declined: read-only)\n", header)
}

func (p *linePrinter) RenderMessage(text string) {
	p.Alert("Transfer log", text)
}

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
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

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
