// Package view turns livemark data into display strings for the CLI.
package view

import (
	"fmt"
	"strconv"
	"time"

	"livemarks/internal/livemark"
	"livemarks/internal/server"
)

const (
	stateLoading = "loading"
	stateFailed  = "failed"
	stateNever   = "never loaded"
	stateOK      = "ok"
)

func BuildLivemarkRow(status livemark.Status, now time.Time) LivemarkRow {
	site := status.SiteURI
	if site == "" {
		site = "-"
	}

	return LivemarkRow{
		ID:       strconv.FormatInt(status.FolderID, 10),
		Title:    status.Title,
		FeedURI:  status.FeedURI,
		SiteURI:  site,
		State:    livemarkState(status),
		Children: strconv.Itoa(status.Children),
		Expires:  FormatExpiry(status.ExpiresAt, now),
	}
}

func BuildLivemarkRows(statuses []livemark.Status, now time.Time) []LivemarkRow {
	rows := make([]LivemarkRow, 0, len(statuses))
	for _, status := range statuses {
		rows = append(rows, BuildLivemarkRow(status, now))
	}
	return rows
}

func BuildChildRows(children []server.Child) []ChildRow {
	rows := make([]ChildRow, 0, len(children))
	for _, child := range children {
		rows = append(rows, ChildRow{
			Index: strconv.Itoa(child.Index),
			Title: child.Title,
			URI:   child.URI,
		})
	}
	return rows
}

func livemarkState(status livemark.Status) string {
	switch {
	case status.Loading:
		return stateLoading
	case status.LoadFailed:
		return stateFailed
	case status.ExpiresAt.IsZero():
		return stateNever
	default:
		return stateOK
	}
}

// FormatExpiry renders when a livemark next becomes due.
func FormatExpiry(expires, now time.Time) string {
	if expires.IsZero() || !expires.After(now) {
		return "due"
	}
	return "in " + FormatRelativeShort(now, expires)
}

func FormatTime(t time.Time) string {
	return t.Local().Format("Jan 2, 2006 - 3:04 PM")
}

func FormatRelativeShort(t time.Time, now time.Time) string {
	if t.IsZero() {
		return "na"
	}
	age := now.Sub(t)
	if age < 0 {
		age = 0
	}
	switch {
	case age < time.Minute:
		return fmt.Sprintf("%ds", int(age.Seconds()))
	case age < time.Hour:
		return fmt.Sprintf("%dm", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh", int(age.Hours()))
	case age < 365*24*time.Hour:
		return fmt.Sprintf("%dd", int(age.Hours()/24))
	default:
		return fmt.Sprintf("%dy", int(age.Hours()/(24*365)))
	}
}
