package models

// Item is what the file system host sees for one identifier.
type Item struct {
	Metadata ItemMetadata
	// LocalPath is set only when the cached copy is current.
	LocalPath string
	// NewestVersionLocallyCached is true when the cached copy is current.
	NewestVersionLocallyCached bool
	// LastError is the recorded failure of the item's pending upload, if any.
	LastError error
}

func (i Item) ID() int64 { return i.Metadata.ID }

// ItemList is one page of a folder enumeration.
type ItemList struct {
	Items         []Item
	NextPageToken *string
}

// Changes is the result of an incremental change enumeration.
type Changes struct {
	Updated []Item
	Removed []int64
	Anchor  int64
}
