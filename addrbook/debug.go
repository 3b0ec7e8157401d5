package addrbook

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
)

// DumpTable renders the current address catalog as an ASCII table, the
// address-book counterpart to peer.Manager.DumpTable, for external CLI/test
// consumers — the core itself never prints anything.
func (b *Book) DumpTable() string {
	snap := b.Snapshot()

	var sb strings.Builder
	table := tablewriter.NewWriter(&sb)
	table.SetHeader([]string{"Address", "Source", "Quality", "Successes", "Failures"})
	for _, a := range snap {
		table.Append([]string{
			a.Endpoint.String(),
			a.Source,
			fmt.Sprintf("%.2f", a.QualityScore()),
			strconv.Itoa(int(a.SuccessCount)),
			strconv.Itoa(int(a.FailureCount)),
		})
	}
	table.Render()
	return sb.String()
}
