package forecast

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
)

// WriteTable prints one row per horizon.
func (r *Report) WriteTable(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Step", "Samples", "MAE"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)

	for k := 0; k < r.Steps(); k++ {
		table.Append([]string{
			strconv.Itoa(k + 1),
			strconv.Itoa(r.Count(k)),
			fmt.Sprintf("%.6f", r.MAE(k)),
		})
	}
	table.SetFooter([]string{"", strconv.Itoa(r.Positions), "positions"})
	table.Render()
}
