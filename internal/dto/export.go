package dto

import "time"

// ExportRequest selects the render format for a reply export.
type ExportRequest struct {
	Format string `form:"format" validate:"required,oneof=pdf xlsx csv"`
}

// ExportResult points at a rendered export file.
type ExportResult struct {
	FileName  string    `json:"fileName"`
	Format    string    `json:"format"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}
