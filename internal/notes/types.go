package notes

import "time"

// Note mirrors the canonical note representation returned by the backend.
type Note struct {
	ID         string   `json:"id"`
	UserID     string   `json:"user_id"`
	Title      string   `json:"title"`
	Body       string   `json:"body"`
	IsFavorite bool     `json:"is_favorite"`
	IsArchived bool     `json:"is_archived"`
	Tags       []string `json:"tags"`
	FolderID   *string  `json:"folder_id"`
	CreatedAt  string   `json:"created_at"`
	UpdatedAt  string   `json:"updated_at"`
}

// ParsedCreatedAt returns CreatedAt as time.Time, or the zero time.
func (n Note) ParsedCreatedAt() time.Time {
	return parseTime(n.CreatedAt)
}

// ParsedUpdatedAt returns UpdatedAt as time.Time, or the zero time.
func (n Note) ParsedUpdatedAt() time.Time {
	return parseTime(n.UpdatedAt)
}

// Draft holds the editable fields of a new note (POST /notes/).
type Draft struct {
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	Tags     []string `json:"tags"`
	FolderID *string  `json:"folder_id"`
}

// Patch is a partial update (PUT /notes/{id}). Nil fields are left alone.
type Patch struct {
	Title      *string   `json:"title,omitempty"`
	Body       *string   `json:"body,omitempty"`
	IsFavorite *bool     `json:"is_favorite,omitempty"`
	IsArchived *bool     `json:"is_archived,omitempty"`
	Tags       *[]string `json:"tags,omitempty"`
	FolderID   *string   `json:"folder_id,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Title == nil && p.Body == nil && p.IsFavorite == nil &&
		p.IsArchived == nil && p.Tags == nil && p.FolderID == nil
}

// errorBody is the backend's error payload.
type errorBody struct {
	Detail string `json:"detail"`
}

// healthResponse mirrors /health.
type healthResponse struct {
	Status string `json:"status"`
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}
