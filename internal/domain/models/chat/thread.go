package chat

import "time"

// DefaultThreadTitle is the placeholder title until one is generated or set
const DefaultThreadTitle = "New Chat"

// Visibility controls whether a thread is listed
type Visibility string

const (
	VisibilityVisible  Visibility = "visible"
	VisibilityArchived Visibility = "archived"
)

// Thread is a conversation owned by one user
type Thread struct {
	ID                    string           `json:"id" db:"id"`
	UserID                string           `json:"user_id" db:"user_id"`
	Title                 string           `json:"title" db:"title"`
	UserSetTitle          bool             `json:"user_set_title" db:"user_set_title"`
	Model                 string           `json:"model" db:"model"`
	GenerationStatus      GenerationStatus `json:"generation_status" db:"generation_status"`
	GenerationToken       string           `json:"-" db:"generation_token"`
	Visibility            Visibility       `json:"visibility" db:"visibility"`
	Pinned                bool             `json:"pinned" db:"pinned"`
	IsPublic              bool             `json:"is_public" db:"is_public"`
	FolderID              *string          `json:"folder_id,omitempty" db:"folder_id"`
	BranchParentThreadID  *string          `json:"branch_parent_thread_id,omitempty" db:"branch_parent_thread_id"`
	BranchParentMessageID *string          `json:"branch_parent_message_id,omitempty" db:"branch_parent_message_id"`
	LastMessageAt         time.Time        `json:"last_message_at" db:"last_message_at"`
	CreatedAt             time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time        `json:"updated_at" db:"updated_at"`
}

// ThreadUpdate carries the user-editable thread fields. Nil means unchanged.
type ThreadUpdate struct {
	Title      *string
	Pinned     *bool
	Visibility *Visibility
	IsPublic   *bool
	// FolderSet with a nil FolderID moves the thread out of its folder
	FolderSet bool
	FolderID  *string
}
