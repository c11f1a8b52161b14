package server

import (
	"livemarks/internal/livemark"
	"livemarks/internal/store"
)

// CreateRequest is the body of POST /livemarks. ParentID defaults to the root
// folder and Index to the end of the parent.
type CreateRequest struct {
	Index      *int   `json:"index,omitempty"`
	Title      string `json:"title"`
	FeedURI    string `json:"feed_uri"`
	SiteURI    string `json:"site_uri,omitempty"`
	ParentID   int64  `json:"parent_id,omitempty"`
	FolderOnly bool   `json:"folder_only,omitempty"`
}

// CreateResponse carries the new folder id.
type CreateResponse struct {
	FolderID int64 `json:"folder_id"`
}

// URIRequest is the body of the feed and site update endpoints.
type URIRequest struct {
	URI string `json:"uri"`
}

// ListResponse wraps GET /livemarks.
type ListResponse struct {
	Livemarks []livemark.Status `json:"livemarks"`
}

// Child is one bookmark inside a livemark folder.
type Child struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
	ID    int64  `json:"id"`
	Index int    `json:"index"`
}

// ChildrenResponse wraps GET /livemarks/{id}/children.
type ChildrenResponse struct {
	Children []Child `json:"children"`
}

// ReloadResponse reports how many loads a reload request started.
type ReloadResponse struct {
	Started int `json:"started"`
}

// ImportResponse reports an OPML import.
type ImportResponse struct {
	Imported []int64 `json:"imported"`
	Skipped  int     `json:"skipped"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

func childrenFromItems(items []store.Item) []Child {
	out := make([]Child, 0, len(items))
	for _, item := range items {
		out = append(out, Child{
			Title: item.Title,
			URI:   item.URI,
			ID:    item.ID,
			Index: item.Index,
		})
	}

	return out
}
