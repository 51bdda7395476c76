package dto

import (
	"github.com/maruel/ksid"
)

// --- Common Responses ---

// OkResponse is a simple success response.
type OkResponse struct {
	Ok bool `json:"ok"`
}

// --- Auth Responses ---

// LoginResponse is a response from logging in.
type LoginResponse struct {
	Token string        `json:"token"`
	User  *UserResponse `json:"user"`
}

// RegisterResponse is a response from registering a new user.
type RegisterResponse = LoginResponse

// LogoutResponse is a response from logging out.
type LogoutResponse = OkResponse

// UserResponse is the API representation of a user.
type UserResponse struct {
	ID              ksid.ID         `json:"id"`
	Email           string          `json:"email"`
	Name            string          `json:"name"`
	OAuthIdentities []OAuthIdentity `json:"oauth_identities,omitempty"`
	Settings        UserSettings    `json:"settings"`
	Quotas          ResourceQuotas  `json:"quotas"`
	Created         Time            `json:"created"`
	Modified        Time            `json:"modified"`
}

// GetMeResponse is a response containing the current user.
type GetMeResponse = UserResponse

// UpdateMeResponse is a response from updating the current user.
type UpdateMeResponse = UserResponse

// SessionResponse is the API representation of an active session.
type SessionResponse struct {
	ID          ksid.ID `json:"id"`
	DeviceInfo  string  `json:"device_info"`
	IPAddress   string  `json:"ip_address"`
	CountryCode string  `json:"country_code,omitempty"`
	Created     Time    `json:"created"`
	LastUsed    Time    `json:"last_used"`
	IsCurrent   bool    `json:"is_current"`
}

// ListSessionsResponse is a response containing the user's active sessions.
type ListSessionsResponse struct {
	Sessions []SessionResponse `json:"sessions"`
}

// RevokeSessionResponse is a response from revoking a session.
type RevokeSessionResponse = OkResponse

// --- Fragment Responses ---

// FragmentSummary is a brief representation of a fragment for list responses.
type FragmentSummary struct {
	ID       ksid.ID  `json:"id"`
	Title    string   `json:"title"`
	Tags     []string `json:"tags,omitempty"`
	Language string   `json:"language,omitempty"`
	Created  Time     `json:"created"`
	Modified Time     `json:"modified"`
}

// ListFragmentsResponse is a response containing a list of fragments.
type ListFragmentsResponse struct {
	Fragments []FragmentSummary `json:"fragments"`
}

// GetFragmentResponse is a response containing a full fragment.
type GetFragmentResponse struct {
	ID           ksid.ID  `json:"id"`
	Title        string   `json:"title"`
	Content      string   `json:"content"`
	Tags         []string `json:"tags,omitempty"`
	Language     string   `json:"language,omitempty"`
	SourceFileID ksid.ID  `json:"source_file_id,omitempty"`
	Created      Time     `json:"created"`
	Modified     Time     `json:"modified"`
}

// CreateFragmentResponse is a response from creating a fragment.
type CreateFragmentResponse struct {
	ID ksid.ID `json:"id"`
}

// UpdateFragmentResponse is a response from updating a fragment.
type UpdateFragmentResponse struct {
	ID ksid.ID `json:"id"`
}

// DeleteFragmentResponse is a response from deleting a fragment.
type DeleteFragmentResponse = OkResponse

// GetFragmentHistoryResponse is a response containing fragment history.
type GetFragmentHistoryResponse struct {
	History []Commit `json:"history"`
}

// GetFragmentVersionResponse is a response containing a fragment as of a
// specific revision.
type GetFragmentVersionResponse struct {
	Hash     string   `json:"hash"`
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Tags     []string `json:"tags,omitempty"`
	Language string   `json:"language,omitempty"`
}

// --- File Responses ---

// FileOCRStatus is the OCR enrichment state of an uploaded file.
type FileOCRStatus struct {
	State      string  `json:"state"`
	FragmentID ksid.ID `json:"fragment_id,omitempty"`
	Language   string  `json:"language,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// FileResponse is the API representation of an uploaded file.
type FileResponse struct {
	ID       ksid.ID        `json:"id"`
	Name     string         `json:"name"`
	MimeType string         `json:"mime_type"`
	Size     int64          `json:"size"`
	Width    int            `json:"width,omitempty"`
	Height   int            `json:"height,omitempty"`
	URL      string         `json:"url"`
	OCR      *FileOCRStatus `json:"ocr,omitempty"`
	Created  Time           `json:"created"`
}

// UploadFileResponse is a response from uploading a file.
type UploadFileResponse = FileResponse

// GetFileResponse is a response containing a file's metadata.
type GetFileResponse = FileResponse

// ListFilesResponse is a response containing the user's files and
// aggregate storage usage.
type ListFilesResponse struct {
	Files      []FileResponse `json:"files"`
	TotalFiles int            `json:"total_files"`
	TotalBytes int64          `json:"total_bytes"`
}

// DeleteFileResponse is a response from deleting a file.
type DeleteFileResponse = OkResponse

// --- OCR Responses ---

// OCRJobResponse is the API representation of an OCR job.
type OCRJobResponse struct {
	ID          ksid.ID `json:"id"`
	FileID      ksid.ID `json:"file_id"`
	Language    string  `json:"language,omitempty"`
	State       string  `json:"state"`
	Attempts    int     `json:"attempts"`
	MaxAttempts int     `json:"max_attempts"`
	Error       string  `json:"error,omitempty"`
	FragmentID  ksid.ID `json:"fragment_id,omitempty"`
	Enqueued    Time    `json:"enqueued"`
	Started     Time    `json:"started,omitempty"`
	Finished    Time    `json:"finished,omitempty"`
}

// RunOCRResponse is a response from queuing an OCR job.
type RunOCRResponse = OCRJobResponse

// GetOCRJobResponse is a response containing a single OCR job.
type GetOCRJobResponse = OCRJobResponse

// ListOCRJobsResponse is a response containing the user's OCR jobs.
type ListOCRJobsResponse struct {
	Jobs []OCRJobResponse `json:"jobs"`
}

// GetOCRResultResponse is a response containing the raw recognition
// result of a completed OCR job.
type GetOCRResultResponse struct {
	Text       string    `json:"text"`
	Words      []OCRWord `json:"words,omitempty"`
	Confidence float64   `json:"confidence"`
	Language   string    `json:"language,omitempty"`
}

// --- Search Responses ---

// SearchResult represents a single search hit.
type SearchResult struct {
	FragmentID ksid.ID `json:"fragment_id"`
	Title      string  `json:"title"`
	Snippet    string  `json:"snippet"`
	Rank       float64 `json:"rank"`
}

// SearchResponse is the response to a search request.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
}

// --- Notification Responses ---

// GetVAPIDKeyResponse is a response containing the web push public key.
type GetVAPIDKeyResponse struct {
	PublicKey string `json:"public_key"`
}

// SubscribePushResponse is a response from registering a push subscription.
type SubscribePushResponse struct {
	ID ksid.ID `json:"id"`
}

// UnsubscribePushResponse is a response from removing a push subscription.
type UnsubscribePushResponse = OkResponse

// --- Health Responses ---

// HealthResponse is a response from a health check.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Revision  string `json:"revision,omitempty"`
	Dirty     bool   `json:"dirty,omitempty"`
}
