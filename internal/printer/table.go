package printer

import (
	"io"

	"github.com/olekukonko/tablewriter"
)

// Table writes rows under headers as an aligned text table to Out.
func Table(headers []string, rows [][]string) error {
	return TableTo(Out, headers, rows)
}

// TableTo is Table with an explicit writer.
func TableTo(w io.Writer, headers []string, rows [][]string) error {
	table := tablewriter.NewWriter(w)
	table.Header(headers)
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

// State colours an agent or workflow state for terminal output.
func State(state string) string {
	switch state {
	case "idle", "complete", "healthy":
		return green.Sprint(state)
	case "busy", "pending":
		return cyan.Sprint(state)
	case "error", "failed", "unreachable", "unhealthy":
		return red.Sprint(state)
	default:
		return state
	}
}
