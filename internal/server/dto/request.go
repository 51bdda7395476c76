package dto

import (
	"github.com/maruel/ksid"
)

// --- Auth ---

// LoginRequest is a request to log in.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate validates the login request fields.
func (r *LoginRequest) Validate() error {
	if r.Email == "" {
		return MissingField("email")
	}
	if r.Password == "" {
		return MissingField("password")
	}
	return nil
}

// RegisterRequest is a request to register a new user.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// Validate validates the register request fields.
func (r *RegisterRequest) Validate() error {
	if r.Email == "" {
		return MissingField("email")
	}
	if r.Password == "" {
		return MissingField("password")
	}
	if r.Name == "" {
		return MissingField("name")
	}
	return nil
}

// LogoutRequest is a request to log out the current session.
type LogoutRequest struct{}

// Validate is a no-op for LogoutRequest.
func (r *LogoutRequest) Validate() error {
	return nil
}

// GetMeRequest is a request to get current user info.
type GetMeRequest struct{}

// Validate is a no-op for GetMeRequest.
func (r *GetMeRequest) Validate() error {
	return nil
}

// UpdateMeRequest is a request to update the current user's profile.
// A nil Settings leaves settings unchanged; an empty Name leaves the
// display name unchanged.
type UpdateMeRequest struct {
	Name     string        `json:"name,omitempty"`
	Settings *UserSettings `json:"settings,omitempty"`
}

// Validate is a no-op for UpdateMeRequest.
func (r *UpdateMeRequest) Validate() error {
	return nil
}

// ListSessionsRequest is a request to list the current user's active sessions.
type ListSessionsRequest struct{}

// Validate is a no-op for ListSessionsRequest.
func (r *ListSessionsRequest) Validate() error {
	return nil
}

// RevokeSessionRequest is a request to revoke a specific session.
type RevokeSessionRequest struct {
	SessionID ksid.ID `path:"sessionID"`
}

// Validate validates the revoke session request fields.
func (r *RevokeSessionRequest) Validate() error {
	if r.SessionID.IsZero() {
		return MissingField("sessionID")
	}
	return nil
}

// --- Fragments ---

// ListFragmentsRequest is a request to list fragments, optionally
// filtered by tag.
type ListFragmentsRequest struct {
	Tag string `query:"tag"`
}

// Validate is a no-op for ListFragmentsRequest.
func (r *ListFragmentsRequest) Validate() error {
	return nil
}

// GetFragmentRequest is a request to get a fragment.
type GetFragmentRequest struct {
	FragmentID ksid.ID `path:"fragmentID"`
}

// Validate validates the get fragment request fields.
func (r *GetFragmentRequest) Validate() error {
	if r.FragmentID.IsZero() {
		return MissingField("fragmentID")
	}
	return nil
}

// CreateFragmentRequest is a request to create a fragment.
type CreateFragmentRequest struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Tags     []string `json:"tags,omitempty"`
	Language string   `json:"language,omitempty"`
}

// Validate validates the create fragment request fields.
func (r *CreateFragmentRequest) Validate() error {
	if r.Title == "" {
		return MissingField("title")
	}
	return nil
}

// UpdateFragmentRequest is a request to replace a fragment's content.
type UpdateFragmentRequest struct {
	FragmentID ksid.ID  `path:"fragmentID"`
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Tags       []string `json:"tags,omitempty"`
	Language   string   `json:"language,omitempty"`
}

// Validate validates the update fragment request fields.
func (r *UpdateFragmentRequest) Validate() error {
	if r.FragmentID.IsZero() {
		return MissingField("fragmentID")
	}
	if r.Title == "" {
		return MissingField("title")
	}
	return nil
}

// DeleteFragmentRequest is a request to delete a fragment.
type DeleteFragmentRequest struct {
	FragmentID ksid.ID `path:"fragmentID"`
}

// Validate validates the delete fragment request fields.
func (r *DeleteFragmentRequest) Validate() error {
	if r.FragmentID.IsZero() {
		return MissingField("fragmentID")
	}
	return nil
}

// GetFragmentHistoryRequest is a request to get a fragment's revision history.
type GetFragmentHistoryRequest struct {
	FragmentID ksid.ID `path:"fragmentID"`
	Limit      int     `query:"limit"` // Max commits to return (1-1000, default 50).
}

// Validate validates the get fragment history request fields.
func (r *GetFragmentHistoryRequest) Validate() error {
	if r.FragmentID.IsZero() {
		return MissingField("fragmentID")
	}
	if r.Limit < 0 || r.Limit > 1000 {
		return BadRequest("limit must be between 1 and 1000")
	}
	return nil
}

// GetFragmentVersionRequest is a request to get a fragment as of a
// specific revision.
type GetFragmentVersionRequest struct {
	FragmentID ksid.ID `path:"fragmentID"`
	Hash       string  `path:"hash"`
}

// Validate validates the get fragment version request fields.
func (r *GetFragmentVersionRequest) Validate() error {
	if r.FragmentID.IsZero() {
		return MissingField("fragmentID")
	}
	if r.Hash == "" {
		return MissingField("hash")
	}
	return nil
}

// --- Files ---

// ListFilesRequest is a request to list the current user's files.
type ListFilesRequest struct{}

// Validate is a no-op for ListFilesRequest.
func (r *ListFilesRequest) Validate() error {
	return nil
}

// GetFileRequest is a request to get a file's metadata.
type GetFileRequest struct {
	FileID ksid.ID `path:"fileID"`
}

// Validate validates the get file request fields.
func (r *GetFileRequest) Validate() error {
	if r.FileID.IsZero() {
		return MissingField("fileID")
	}
	return nil
}

// DeleteFileRequest is a request to delete a file.
type DeleteFileRequest struct {
	FileID ksid.ID `path:"fileID"`
}

// Validate validates the delete file request fields.
func (r *DeleteFileRequest) Validate() error {
	if r.FileID.IsZero() {
		return MissingField("fileID")
	}
	return nil
}

// --- OCR ---

// RunOCRRequest is a request to queue OCR for an uploaded image.
type RunOCRRequest struct {
	FileID   ksid.ID `path:"fileID"`
	Language string  `json:"language,omitempty"` // Recognition language (defaults to the user's setting).
}

// Validate validates the run OCR request fields.
func (r *RunOCRRequest) Validate() error {
	if r.FileID.IsZero() {
		return MissingField("fileID")
	}
	return nil
}

// ListOCRJobsRequest is a request to list the current user's OCR jobs.
type ListOCRJobsRequest struct {
	Limit int `query:"limit"` // Max jobs to return (1-500, default 50).
}

// Validate validates the list OCR jobs request fields.
func (r *ListOCRJobsRequest) Validate() error {
	if r.Limit < 0 || r.Limit > 500 {
		return BadRequest("limit must be between 1 and 500")
	}
	return nil
}

// GetOCRJobRequest is a request to get a single OCR job.
type GetOCRJobRequest struct {
	JobID ksid.ID `path:"jobID"`
}

// Validate validates the get OCR job request fields.
func (r *GetOCRJobRequest) Validate() error {
	if r.JobID.IsZero() {
		return MissingField("jobID")
	}
	return nil
}

// GetOCRResultRequest is a request to get the raw recognition result of
// a completed OCR job.
type GetOCRResultRequest struct {
	JobID ksid.ID `path:"jobID"`
}

// Validate validates the get OCR result request fields.
func (r *GetOCRResultRequest) Validate() error {
	if r.JobID.IsZero() {
		return MissingField("jobID")
	}
	return nil
}

// --- Search ---

// SearchRequest is a request to search the fragment library.
type SearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"` // Max hits to return (1-100, default 20).
}

// Validate validates the search request fields.
func (r *SearchRequest) Validate() error {
	if r.Query == "" {
		return MissingField("query")
	}
	if r.Limit < 0 || r.Limit > 100 {
		return BadRequest("limit must be between 1 and 100")
	}
	return nil
}

// --- Notifications ---

// GetVAPIDKeyRequest is a request to get the server's web push public key.
type GetVAPIDKeyRequest struct{}

// Validate is a no-op for GetVAPIDKeyRequest.
func (r *GetVAPIDKeyRequest) Validate() error {
	return nil
}

// SubscribePushRequest is a request to register a web push subscription.
type SubscribePushRequest struct {
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"p256dh"`
	Auth     string `json:"auth"`
}

// Validate validates the subscribe push request fields.
func (r *SubscribePushRequest) Validate() error {
	if r.Endpoint == "" {
		return MissingField("endpoint")
	}
	if r.P256dh == "" {
		return MissingField("p256dh")
	}
	if r.Auth == "" {
		return MissingField("auth")
	}
	return nil
}

// UnsubscribePushRequest is a request to remove a push subscription.
type UnsubscribePushRequest struct {
	SubscriptionID ksid.ID `path:"subscriptionID"`
}

// Validate validates the unsubscribe push request fields.
func (r *UnsubscribePushRequest) Validate() error {
	if r.SubscriptionID.IsZero() {
		return MissingField("subscriptionID")
	}
	return nil
}

// --- Health ---

// HealthRequest is a request for a health check.
type HealthRequest struct{}

// Validate is a no-op for HealthRequest.
func (r *HealthRequest) Validate() error {
	return nil
}
