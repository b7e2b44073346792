package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ehr/medtrack/internal/domain/adherence"
)

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func itemStatus(it adherence.PrescriptionItem) string {
	switch {
	case it.Taken:
		return "taken"
	case adherence.ItemActionable(it):
		return "can mark"
	}
	return "pending"
}

func printPrescriptions(w io.Writer, prescriptions []adherence.Prescription) error {
	if len(prescriptions) == 0 {
		fmt.Fprintln(w, "No prescriptions.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, p := range prescriptions {
		fmt.Fprintf(tw, "Prescription %s\tissued %s\t%s\n", p.Number, p.IssuedAt.Format("2006-01-02"), p.Professional.FullName())
		for _, it := range p.Items {
			fmt.Fprintf(tw, "  %s\t%s (%s)\t%s\n", it.ID, it.Medication.Description, it.Medication.Unit, itemStatus(it))
		}
	}
	return tw.Flush()
}

func printView(w io.Writer, v *adherence.View) error {
	if err := printPrescriptions(w, v.Prescriptions); err != nil {
		return err
	}
	if len(v.ActionableItems) > 0 {
		fmt.Fprintf(w, "\nReady to mark: %s\n", strings.Join(v.ActionableItems, ", "))
	}
	return nil
}

func printCalendar(w io.Writer, cv *adherence.CalendarView) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, d := range cv.Days {
		sel := ""
		if d.Selected {
			sel = "<"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Day, d.Marker, sel)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%s\n", cv.Day)
	return printPrescriptions(w, cv.Prescriptions)
}

func printSchedule(w io.Writer, day adherence.DayKey, entries []adherence.ScheduleEntry, loc *time.Location) error {
	if len(entries) == 0 {
		fmt.Fprintf(w, "Nothing scheduled for %s.\n", day)
		return nil
	}
	if loc == nil {
		loc = time.Local
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		slots := make([]string, 0, len(e.Doses))
		for _, d := range e.Doses {
			slots = append(slots, fmt.Sprintf("%s %s", d.ScheduledAt.In(loc).Format("15:04"), d.State))
		}
		mark := ""
		if e.CanMark {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s%s\t%s\t%s\n", e.ItemID, mark, e.Medication.Description, strings.Join(slots, ", "))
	}
	return tw.Flush()
}

func printStats(w io.Writer, st *adherence.ComplianceStats) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Prescriptions\t%d\n", st.Total)
	fmt.Fprintf(tw, "Taken\t%d\n", st.Taken)
	fmt.Fprintf(tw, "Pending\t%d\n", st.Pending)
	fmt.Fprintf(tw, "Compliance\t%d%%\n", st.Percentage)
	return tw.Flush()
}

func printMarkResult(w io.Writer, r adherence.MarkResult) {
	switch r.Status {
	case adherence.StatusAlreadyTaken:
		fmt.Fprintf(w, "Item %s was already taken\n", r.ItemID)
	default:
		fmt.Fprintf(w, "Item %s marked as taken\n", r.ItemID)
	}
}

func printHistory(w io.Writer, h *adherence.PatientHistory) error {
	fmt.Fprintf(w, "%s  DNI %s", h.Patient.FullName, h.Patient.DNI)
	if h.Patient.BirthDate != nil {
		fmt.Fprintf(w, "  born %s", h.Patient.BirthDate.Format("2006-01-02"))
	}
	if h.Patient.Gender != "" {
		fmt.Fprintf(w, "  %s", h.Patient.Gender)
	}
	fmt.Fprintln(w)
	return printPrescriptions(w, h.Prescriptions)
}
