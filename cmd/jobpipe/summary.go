package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/aristath/jobpipe/internal/scheduler"
)

// writeSummary prints per-task counts, then every failed node with its
// error.
func writeSummary(w io.Writer, s *scheduler.Schedule) {
	byID := s.StatusesByID()

	// Task order follows the first node of each task.
	var order []string
	seen := make(map[string]bool)
	for _, n := range s.Nodes() {
		if !seen[n.ID()] {
			seen[n.ID()] = true
			order = append(order, n.ID())
		}
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("TASK", "NODES", "FINISHED", "SKIPPED", "FAILED", "OTHER")
	for _, id := range order {
		var finished, skipped, failed, other int
		for _, st := range byID[id] {
			switch {
			case st.Code() == scheduler.Finished:
				finished++
			case st.Code() == scheduler.Skipped:
				skipped++
			case st.Failed():
				failed++
			default:
				other++
			}
		}
		t.Row(id, strconv.Itoa(len(byID[id])), strconv.Itoa(finished), strconv.Itoa(skipped),
			strconv.Itoa(failed), strconv.Itoa(other))
	}

	fmt.Fprintf(w, "schedule %s\n", s.ID())
	fmt.Fprintln(w, t.String())

	for _, st := range s.Failed() {
		fmt.Fprintf(w, "%s %s: %v\n", st.Node(), st.Code(), st.Err())
	}
}
