package database

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// timeLayout is fixed width so that TEXT comparisons in SQL sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// FormatTime renders t in the layout stored in timestamp columns.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// Timestamp scans and stores time.Time values as fixed-width UTC text.
type Timestamp time.Time

func (t Timestamp) Value() (driver.Value, error) {
	return FormatTime(time.Time(t)), nil
}

func (t *Timestamp) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*t = Timestamp(time.Time{})
		return nil
	case time.Time:
		*t = Timestamp(v.UTC())
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("cannot scan %T into timestamp", src)
	}
}

func (t *Timestamp) parse(s string) error {
	parsed, err := time.Parse(timeLayout, s)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
	}
	*t = Timestamp(parsed.UTC())
	return nil
}

// Series status values.
const (
	StatusOngoing   = "ongoing"
	StatusCompleted = "completed"
	StatusHiatus    = "hiatus"
	StatusCanceled  = "canceled"
)

// Series kinds.
const (
	KindManga   = "manga"
	KindComic   = "comic"
	KindWebtoon = "webtoon"
)

// Page positions.
const (
	PositionLeft   = "left"
	PositionRight  = "right"
	PositionCenter = "center"
)

// AliasKind identifies the entity an alias is attached to.
type AliasKind string

const (
	AliasSeries AliasKind = "series"
	AliasAuthor AliasKind = "author"
	AliasArtist AliasKind = "artist"
	AliasGroup  AliasKind = "group"
)

// Role kinds a member can hold in a group.
var RoleNames = map[string]string{
	"LD": "Leader",
	"TL": "Translator",
	"PR": "Proofreader",
	"CL": "Cleaner",
	"RD": "Redrawer",
	"TS": "Typesetter",
	"RP": "Raw Provider",
	"QC": "Quality Checker",
}

func ValidStatus(s string) bool {
	switch s {
	case StatusOngoing, StatusCompleted, StatusHiatus, StatusCanceled:
		return true
	}
	return false
}

func ValidKind(s string) bool {
	switch s {
	case KindManga, KindComic, KindWebtoon:
		return true
	}
	return false
}
