package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"erpsync/internal/attachments"
	"erpsync/internal/config"
	"erpsync/internal/pipeline"
)

type reportView struct {
	pipeline.Report
	Error string `json:"error,omitempty"`
}

func renderReports(w io.Writer, format string, results []pipeline.JobResult) error {
	views := make([]reportView, 0, len(results))
	for _, r := range results {
		v := reportView{Report: r.Report}
		if r.Err != nil {
			v.Error = r.Err.Error()
		}
		views = append(views, v)
	}
	if format == "json" {
		return writeJSON(w, views)
	}

	table := tablewriter.NewWriter(w)
	table.Header("Pipeline", "Mode", "Result", "Written", "Units ok/failed/skipped", "Duration", "Error")
	for _, v := range views {
		result, written, units := "ok", "-", "-"
		switch {
		case v.Error != "":
			result = "failed"
		case v.Outcome != nil && v.Outcome.NoData:
			result = "no data"
		}
		if v.Outcome != nil {
			written = strconv.Itoa(v.Outcome.Written)
		}
		if s := v.Summary; s != nil {
			units = fmt.Sprintf("%d/%d/%d", s.Processed, s.Failed, s.Skipped)
			if s.Failed > 0 && result == "ok" {
				result = "partial"
			}
		}
		if err := table.Append([]string{
			v.Pipeline, string(v.Mode), result, written, units,
			v.Duration.Truncate(time.Millisecond).String(), v.Error,
		}); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}

	// failed units are listed below the table
	for _, v := range views {
		if v.Summary == nil {
			continue
		}
		for _, f := range v.Summary.Units.Failed {
			fmt.Fprintf(w, "%s %s: %s\n", v.Pipeline, f.Unit, f.Error)
		}
	}
	return nil
}

func renderStats(w io.Writer, format string, st attachments.Stats) error {
	if format == "json" {
		return writeJSON(w, st)
	}
	table := tablewriter.NewWriter(w)
	table.Header("Attachments", "Success", "Failed", "Bytes")
	if err := table.Append([]string{
		strconv.Itoa(st.Total), strconv.Itoa(st.Success), strconv.Itoa(st.Failed), strconv.FormatInt(st.Bytes, 10),
	}); err != nil {
		return err
	}
	return table.Render()
}

func renderIssues(w io.Writer, format string, issues []config.Issue) error {
	if format == "json" {
		if issues == nil {
			issues = []config.Issue{}
		}
		return writeJSON(w, issues)
	}
	for _, i := range issues {
		fmt.Fprintln(w, i.String())
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
