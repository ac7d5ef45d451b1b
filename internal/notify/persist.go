package notify

import "github.com/vibepanel/vibepanel/internal/storage/sqlite"

func toRow(r Record) sqlite.Row {
	row := sqlite.Row{
		ID:            r.ID,
		AppName:       r.AppName,
		AppIcon:       r.AppIcon,
		Summary:       r.Summary,
		Body:          r.Body,
		Urgency:       uint8(r.Urgency),
		Timestamp:     r.Timestamp,
		ExpireTimeout: r.ExpireTimeout,
		DesktopEntry:  r.DesktopEntry,
		ImagePath:     r.ImagePath,
		Dismissed:     r.Dismissed,
		Silent:        r.Silent,
	}
	for _, a := range r.Actions {
		row.Actions = append(row.Actions, sqlite.Action{Key: a.Key, Label: a.Label})
	}
	return row
}

func fromRow(row sqlite.Row) Record {
	r := Record{
		ID:            row.ID,
		AppName:       row.AppName,
		AppIcon:       row.AppIcon,
		Summary:       row.Summary,
		Body:          row.Body,
		Urgency:       Urgency(row.Urgency),
		Timestamp:     row.Timestamp,
		ExpireTimeout: row.ExpireTimeout,
		DesktopEntry:  row.DesktopEntry,
		ImagePath:     row.ImagePath,
		Dismissed:     row.Dismissed,
		Silent:        row.Silent,
	}
	for _, a := range row.Actions {
		r.Actions = append(r.Actions, Action{Key: a.Key, Label: a.Label})
	}
	return r
}
