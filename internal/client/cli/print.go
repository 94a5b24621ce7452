package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/convivencia/phidiasync/internal/client/api"
)

const timeLayout = "2006-01-02 15:04:05"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

func formatFinished(r *api.Run) string {
	if r.FinishedAt == nil {
		return "-"
	}
	return formatTime(*r.FinishedAt)
}

func printRuns(w io.Writer, runs []api.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTATUS\tSTARTED\tFINISHED\tSOURCE\tBY")
	for i := range runs {
		r := &runs[i]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Status, formatTime(r.StartedAt), formatFinished(r), r.TriggerSource, r.TriggeredBy)
	}
	tw.Flush()
}

func printRun(w io.Writer, r *api.Run, logs []api.Log) {
	fmt.Fprintf(w, "Run %s: %s\n", r.ID, r.Status)
	fmt.Fprintf(w, "  started   %s by %s (%s)\n", formatTime(r.StartedAt), r.TriggeredBy, r.TriggerSource)
	fmt.Fprintf(w, "  finished  %s\n", formatFinished(r))
	if len(logs) > 0 {
		fmt.Fprintln(w)
		printLogs(w, logs)
	}
}

func printLogs(w io.Writer, logs []api.Log) {
	if len(logs) == 0 {
		fmt.Fprintln(w, "No logs.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tPHASE\tPROCESSED\tCREATED\tUPDATED\tUNCHANGED\tFAILED")
	for _, l := range logs {
		c := l.Counts
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
			l.RunID, l.Phase, c.Processed, c.Created, c.Updated, c.Unchanged, c.Failed)
	}
	tw.Flush()

	for _, l := range logs {
		for _, e := range l.Errors {
			fmt.Fprintf(w, "  %s: %s\n", l.Phase, e)
		}
	}
}

func printStatus(w io.Writer, st *api.Status) {
	if st.Running != nil {
		fmt.Fprintf(w, "Running:        %s since %s (%s)\n", st.Running.ID, formatTime(st.Running.StartedAt), st.Running.TriggerSource)
	} else {
		fmt.Fprintln(w, "Running:        none")
	}
	if st.LastFinished != nil {
		fmt.Fprintf(w, "Last finished:  %s %s at %s\n", st.LastFinished.ID, st.LastFinished.Status, formatFinished(st.LastFinished))
	} else {
		fmt.Fprintln(w, "Last finished:  none")
	}

	if len(st.Watermarks) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ENTITY\tWATERMARK\tUPDATED")
	for _, m := range st.Watermarks {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", m.Entity, formatTime(m.Marker), formatTime(m.UpdatedAt))
	}
	tw.Flush()
}
