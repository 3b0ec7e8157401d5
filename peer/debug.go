package peer

import (
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
)

// DumpTable renders the current peer set as an ASCII table, for the
// external CLI/tests to print — the core itself never prints anything.
func (m *Manager) DumpTable() string {
	infos := m.All()
	sort := infos // already a defensive copy; caller order is unspecified

	var sb strings.Builder
	table := tablewriter.NewWriter(&sb)
	table.SetHeader([]string{"ID", "Endpoint", "Reputation", "Failures", "Connected"})
	for _, info := range sort {
		table.Append([]string{
			info.ID,
			info.Endpoint.String(),
			strconv.Itoa(int(info.ReputationScore)),
			strconv.Itoa(int(info.FailureCount)),
			strconv.FormatBool(info.IsConnected),
		})
	}
	table.Render()
	return sb.String()
}
