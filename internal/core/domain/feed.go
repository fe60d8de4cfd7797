package domain

import "errors"

// ReactionTypes is the closed set of reactions a viewer may leave.
// Legacy like rows count as "love" when aggregating.
var ReactionTypes = []string{"love", "like", "laugh", "wow", "fire"}

func ValidReaction(r string) bool {
	for _, t := range ReactionTypes {
		if t == r {
			return true
		}
	}
	return false
}

// Post is a published feed entry. URL fields always point at the active
// location; trash-aware callers rewrite them for display.
type Post struct {
	PostID             string
	OwnerID            string
	AuthorName         string
	Prompt             string
	WorkflowID         string
	Seed               *int64
	AspectRatio        string
	ImageURL           string
	ThumbURL           string
	InputImageURL      string
	InputThumbURL      string
	SourceImageID      string
	InputSourceImageID string
	PublishedAt        float64
	Status             string
}

// PostPage is one page of a feed listing.
type PostPage struct {
	Items      []Post
	Page       int
	Size       int
	Total      int
	TotalPages int
}

// ReactionInfo aggregates reactions on a post for one viewer.
type ReactionInfo struct {
	Reactions  map[string]int `json:"reactions"`
	MyReaction string         `json:"my_reaction,omitempty"`
}

var (
	ErrPostNotFound    = errors.New("post not found")
	ErrInvalidReaction = errors.New("invalid reaction")
)
