package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"crmdash/pkg/crm"
	"crmdash/pkg/session"
	"crmdash/services/console"
)

func (c *cli) printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) printProfile(cmd *cobra.Command, prefix string, p session.Profile) error {
	if c.jsonOut {
		return c.printJSON(cmd, p)
	}
	line := fmt.Sprintf("%s %s <%s>", prefix, p.Name, p.Email)
	if p.OrgName != "" {
		line += " (" + p.OrgName + ")"
	}
	_, err := fmt.Fprintln(cmd.OutOrStdout(), line)
	return err
}

func newTable(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
}

func printDashboard(out io.Writer, d console.Dashboard) {
	tw := newTable(out)
	for _, tile := range d.Tiles {
		fmt.Fprintf(tw, "%s\t%s\n", tile.Title, tile.Value)
	}
	_ = tw.Flush()

	fmt.Fprintln(out)
	tw = newTable(out)
	fmt.Fprintln(tw, "MONTH\tWON\tREVENUE\tLOST")
	for i := range d.Monthly.Won {
		if d.Monthly.Won[i] == 0 && d.Monthly.Revenue[i] == 0 && d.Monthly.Lost[i] == 0 {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			time.Month(i + 1).String()[:3],
			amount(d.Monthly.Won[i]), amount(d.Monthly.Revenue[i]), amount(d.Monthly.Lost[i]))
	}
	_ = tw.Flush()

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Deals: %d won, %d lost\n", d.Deals.Won, d.Deals.Lost)
	fmt.Fprintln(out, d.Deals.Caption())
}

func printContacts(out io.Writer, contacts []crm.Contact) {
	tw := newTable(out)
	fmt.Fprintln(tw, "ID\tNAME\tEMAIL\tCOMPANY\tSTATUS")
	for _, ct := range contacts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", ct.ID, ct.Name, ct.Email, dash(ct.Company), dash(ct.Status))
	}
	_ = tw.Flush()
}

func printTasks(out io.Writer, tasks []crm.Task) {
	tw := newTable(out)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tDUE\tPROGRESS")
	for _, task := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d%%\n", task.ID, task.Name, dash(task.Status), dash(task.DueDate), task.Progress)
	}
	_ = tw.Flush()
}

func printUsers(out io.Writer, users []crm.Assignee) {
	tw := newTable(out)
	fmt.Fprintln(tw, "ID\tNAME")
	for _, u := range users {
		fmt.Fprintf(tw, "%s\t%s\n", u.ID, u.Name)
	}
	_ = tw.Flush()
}

func amount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
