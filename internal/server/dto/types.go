// Defines shared data types and enums for the API.

package dto

import (
	"github.com/NeverlandYao/iknow/internal/storage"
)

// Time is a type alias for storage.Time so API timestamps serialize as
// unix seconds.
type Time = storage.Time

// UserSettings represents global user preferences.
type UserSettings struct {
	Theme       string `json:"theme"`
	Language    string `json:"language"`
	OCRLanguage string `json:"ocr_language,omitempty"`
}

// OAuthIdentity represents a linked OAuth provider account.
type OAuthIdentity struct {
	Provider  string `json:"provider"`
	Email     string `json:"email"`
	LastLogin Time   `json:"last_login"`
}

// ResourceQuotas represents the effective per-user resource limits.
// A zero value means no limit is enforced for that resource.
type ResourceQuotas struct {
	MaxFragments     int   `json:"max_fragments,omitempty"`
	MaxFiles         int   `json:"max_files,omitempty"`
	MaxStorageBytes  int64 `json:"max_storage_bytes,omitempty"`
	MaxFileSizeBytes int64 `json:"max_file_size_bytes,omitempty"`
}

// Commit represents a single revision in a fragment's history.
type Commit struct {
	Hash        string `json:"hash"`
	Message     string `json:"message"`
	AuthorName  string `json:"author_name"`
	AuthorEmail string `json:"author_email"`
	Timestamp   Time   `json:"timestamp"`
}

// OCRBox is the bounding box of a recognized word in image pixel
// coordinates.
type OCRBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// OCRWord is a single recognized word with position and confidence.
type OCRWord struct {
	Text       string  `json:"text"`
	Box        OCRBox  `json:"box"`
	Confidence float64 `json:"confidence"`
}
