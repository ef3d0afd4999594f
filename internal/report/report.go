package report

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

// Renderer writes human-readable tables to a terminal or file.
type Renderer struct {
	out io.Writer

	good  func(...any) string
	warn  func(...any) string
	bad   func(...any) string
	title func(...any) string
}

// NewRenderer creates a renderer. Colors are applied only when useColor is true.
func NewRenderer(out io.Writer, useColor bool) *Renderer {
	r := &Renderer{
		out:   out,
		good:  fmt.Sprint,
		warn:  fmt.Sprint,
		bad:   fmt.Sprint,
		title: fmt.Sprint,
	}
	if useColor {
		r.good = colorFunc(color.FgGreen)
		r.warn = colorFunc(color.FgYellow)
		r.bad = colorFunc(color.FgRed, color.Bold)
		r.title = colorFunc(color.FgCyan, color.Bold)
	}
	return r
}

func colorFunc(attrs ...color.Attribute) func(...any) string {
	c := color.New(attrs...)
	c.EnableColor()
	return c.SprintFunc()
}

func (r *Renderer) printf(format string, args ...any) error {
	_, err := fmt.Fprintf(r.out, format, args...)
	return err
}

func (r *Renderer) table(headers []string, rows [][]string, align tw.Align) error {
	table := tablewriter.NewWriter(r.out)
	defer func() { _ = table.Close() }()

	table.Header(headers)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = align
	})
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}
