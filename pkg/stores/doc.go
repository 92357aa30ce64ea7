// Package stores provides the job history of GeoExhibit.
// It records jobs, their published items and the event timeline in a
// SQLite database migrated from embedded SQL files.
package stores
