package cli

import (
	"io"

	"github.com/olekukonko/tablewriter"
)

func newTable(w io.Writer, header []string) *tablewriter.Table {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}
