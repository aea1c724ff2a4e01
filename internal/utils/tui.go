package utils

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

var (
	successColor = color.New(color.FgGreen)
	infoColor    = color.New(color.FgBlue)
	warningColor = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed)
	headingColor = color.New(color.FgHiCyan, color.Bold)
	keyColor     = color.New(color.Bold)
)

// PrintHeading prints a formatted heading
func PrintHeading(title string) {
	headingColor.Println(title)
}

// PrintSuccess prints a success message
func PrintSuccess(message string) {
	fmt.Println(successColor.Sprint("✓ ") + message)
}

// PrintInfo prints an info message
func PrintInfo(message string) {
	fmt.Println(infoColor.Sprint("ℹ ") + message)
}

// PrintWarning prints a warning message
func PrintWarning(message string) {
	fmt.Println(warningColor.Sprint("⚠ ") + message)
}

// PrintError prints an error message
func PrintError(message string) {
	fmt.Println(errorColor.Sprint("✗ ") + message)
}

// PrintKeyValue prints a key-value pair
func PrintKeyValue(key, value string) {
	fmt.Printf("%s: %s\n", keyColor.Sprint(key), value)
}

// TableOptions defines options for table creation
type TableOptions struct {
	Title       string
	HeaderStyle text.Colors
	BorderStyle text.Colors
	Style       table.Style
}

// DefaultTableOptions returns default table options
func DefaultTableOptions() TableOptions {
	return TableOptions{
		Title:       "",
		HeaderStyle: text.Colors{text.FgHiBlue, text.Bold},
		BorderStyle: text.Colors{text.FgBlue},
		Style:       table.StyleLight,
	}
}

// CreateTable creates a new table with default styling
func CreateTable(options ...TableOptions) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)

	opts := DefaultTableOptions()
	if len(options) > 0 {
		opts = options[0]
	}

	if opts.Title != "" {
		t.SetTitle(opts.Title)
	}

	customStyle := opts.Style
	customStyle.Color.Header = opts.HeaderStyle
	customStyle.Color.Border = opts.BorderStyle
	customStyle.Title.Align = text.AlignCenter
	customStyle.Options.DrawBorder = true
	customStyle.Options.SeparateColumns = true
	customStyle.Options.SeparateHeader = true
	customStyle.Box.PaddingLeft = " "
	customStyle.Box.PaddingRight = " "

	t.SetStyle(customStyle)

	return t
}

// PrintTable prints a table with headers and rows
func PrintTable(headers []string, rows [][]string, options ...TableOptions) {
	opts := DefaultTableOptions()
	if len(options) > 0 {
		opts = options[0]
	}

	t := CreateTable(opts)

	headerRow := table.Row{}
	for _, header := range headers {
		headerRow = append(headerRow, header)
	}
	t.AppendHeader(headerRow)

	for _, row := range rows {
		tableRow := table.Row{}
		for _, cell := range row {
			tableRow = append(tableRow, cell)
		}
		t.AppendRow(tableRow)
	}

	configs := []table.ColumnConfig{}
	for i := range headers {
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       text.AlignLeft,
			AlignHeader: text.AlignCenter,
		})
	}
	t.SetColumnConfigs(configs)

	t.Render()
}
