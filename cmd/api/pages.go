package main

import (
	"net/http"

	"radiology-simulator/internal/models"
	"radiology-simulator/internal/worklist"
)

// Data structs for the UI templates.

type DashboardData struct {
	Scope    string
	Cases    []models.Case
	Reports  []models.Report
	Messages []HL7LogEntry
}

type WorklistData struct {
	Scope   string
	Mode    string
	Station string
	Date    string
	Entries []models.WorklistEntry
}

type InboxData struct {
	Scope     string
	Groups    []models.StudyGroup
	Instances []models.ReceivedInstance
}

func handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	scope := scopeFrom(r)

	cases, err := tracker.Cases(r.Context(), scope)
	if err != nil {
		fail(w, err)
		return
	}
	reports, err := tracker.Reports(r.Context(), scope)
	if err != nil {
		fail(w, err)
		return
	}

	messages := messagesFor(scope)
	// Newest first for the feed.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	if len(messages) > 50 {
		messages = messages[:50]
	}

	data := DashboardData{
		Scope:    scope,
		Cases:    cases,
		Reports:  reports,
		Messages: messages,
	}
	render(w, r, "dashboard", data, "ui/templates/dashboard.html")
}

func handleWorklistPage(w http.ResponseWriter, r *http.Request) {
	scope := scopeFrom(r)
	mode := r.URL.Query().Get("mode")
	station := r.URL.Query().Get("station")
	date := r.URL.Query().Get("date")

	var entries []models.WorklistEntry
	if mode == "pacs" {
		// Ask the PACS worklist SCP instead of the local writer, the way
		// a real modality would.
		pacsEntries, err := gw.FindWorklistPACS(r.Context(), station, date)
		if err != nil {
			fail(w, err)
			return
		}
		entries = pacsEntries
	} else {
		mode = "local"
		seq, err := wlWriter.Query(r.Context(), worklist.Filter{Scope: scope, Station: station, Date: date})
		if err != nil {
			fail(w, err)
			return
		}
		for e := range seq {
			entries = append(entries, e)
		}
	}

	data := WorklistData{
		Scope:   scope,
		Mode:    mode,
		Station: station,
		Date:    date,
		Entries: entries,
	}
	render(w, r, "worklist", data, "ui/templates/worklist.html")
}

func handleInboxPage(w http.ResponseWriter, r *http.Request) {
	scope := scopeFrom(r)
	data := InboxData{
		Scope:     scope,
		Groups:    inbox.Groups(scope),
		Instances: inbox.Instances(scope),
	}
	render(w, r, "inbox", data, "ui/templates/inbox.html")
}
