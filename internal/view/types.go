package view

// LivemarkRow is display data for one livemark in `livemarks list`.
type LivemarkRow struct {
	ID       string
	Title    string
	FeedURI  string
	SiteURI  string
	State    string
	Children string
	Expires  string
}

// ChildRow is display data for one bookmark inside a livemark.
type ChildRow struct {
	Index string
	Title string
	URI   string
}

// LivemarkHeaders matches the column order of LivemarkRow.Cells.
var LivemarkHeaders = []string{"ID", "Title", "Feed", "Site", "State", "Items", "Expires"}

// ChildHeaders matches the column order of ChildRow.Cells.
var ChildHeaders = []string{"#", "Title", "URI"}

// Cells returns the row in LivemarkHeaders order.
func (r LivemarkRow) Cells() []string {
	return []string{r.ID, r.Title, r.FeedURI, r.SiteURI, r.State, r.Children, r.Expires}
}

// Cells returns the row in ChildHeaders order.
func (r ChildRow) Cells() []string {
	return []string{r.Index, r.Title, r.URI}
}
