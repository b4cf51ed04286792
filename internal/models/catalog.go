package models

import "time"

// AceStream is one catalog entry: a stream discovered by the scrapers.
// StreamKey is the content-id when known, otherwise the infohash; entries
// whose content-id is still empty are held out of IPTV and Xtream-Codes
// output but are kept in the catalog and the adhoc playlist export. XcID
// is the auto-assigned integer the Xtream-Codes protocol exposes; insert
// order keeps it stable across restarts.
type AceStream struct {
	XcID           uint      `gorm:"primaryKey;autoIncrement" json:"xc_id"`
	StreamKey      string    `gorm:"uniqueIndex;size:40;not null" json:"-"`
	ContentID      string    `gorm:"index;size:40" json:"content_id"`
	Infohash       string    `gorm:"size:40;index" json:"infohash,omitempty"`
	Title          string    `gorm:"not null" json:"title"`
	TvgID          string    `gorm:"index" json:"tvg_id"`
	TvgLogo        string    `json:"tvg_logo,omitempty"`
	GroupTitle     string    `gorm:"index" json:"group_title"`
	SitesFoundOn   StringSet `gorm:"type:text" json:"sites_found_on"`
	LastScrapedAt  time.Time `json:"last_scraped_time"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName keeps the historical table name.
func (AceStream) TableName() string { return "ace_streams" }

// ContentIDInfohash is the learned bidirectional mapping between the two
// 40-hex namespaces. Each side is unique: an infohash resolves to at most
// one content-id.
type ContentIDInfohash struct {
	ContentID string `gorm:"uniqueIndex;size:40;not null" json:"content_id"`
	Infohash  string `gorm:"uniqueIndex;size:40;not null" json:"infohash"`
}

// TableName keeps the historical table name.
func (ContentIDInfohash) TableName() string { return "content_id_infohash" }

// CategoryXC assigns dense small integer ids to category names, allocated on
// first sight and never reused.
type CategoryXC struct {
	XcCategoryID uint   `gorm:"primaryKey;autoIncrement" json:"xc_category_id"`
	Category     string `gorm:"uniqueIndex;not null" json:"category"`
}

// TableName keeps the historical table name.
func (CategoryXC) TableName() string { return "category_xc" }

// QualityCache is the persisted slice of a stream's health state. The
// in-memory tracker is authoritative between writes.
type QualityCache struct {
	ContentID     string `gorm:"primaryKey;size:40" json:"content_id"`
	Score         int    `json:"score"`
	HasEverWorked bool   `json:"has_ever_worked"`
	M3UFailures   int    `json:"m3u_failures"`
}

// TableName keeps the historical table name.
func (QualityCache) TableName() string { return "ace_quality_cache" }

// AllModels returns every model for auto-migration.
func AllModels() []any {
	return []any{
		&AceStream{},
		&ContentIDInfohash{},
		&CategoryXC{},
		&QualityCache{},
	}
}
