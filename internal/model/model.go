package model

import (
	"strconv"
	"time"
)

type PrivacyType string

const (
	PrivacyPublic     PrivacyType = "public"
	PrivacyRestricted PrivacyType = "restricted"
	PrivacyPrivate    PrivacyType = "private"
)

type Community struct {
	ID              string      `json:"id"`
	CreatorID       string      `json:"creatorId"`
	NumberOfMembers int         `json:"numberOfMembers"`
	PrivacyType     PrivacyType `json:"privacyType"`
	CreatedAt       Time        `json:"createdAt"`
	ImageURL        string      `json:"imageURL,omitempty"`
}

// CommunitySnippet is the membership record stored under the member's
// user document, keyed by community id.
type CommunitySnippet struct {
	CommunityID string `json:"communityId"`
	IsModerator bool   `json:"isModerator"`
	ImageURL    string `json:"imageURL,omitempty"`
}

type Post struct {
	ID                 string `json:"id"`
	CommunityID        string `json:"communityId"`
	CreatorID          string `json:"creatorId"`
	CreatorDisplayName string `json:"creatorDisplayName"`
	Title              string `json:"title"`
	Body               string `json:"body"`
	VoteStatus         int    `json:"voteStatus"`
	NumberOfComments   int    `json:"numberOfComments"`
	CreatedAt          Time   `json:"createdAt"`
	ImageURL           string `json:"imageURL,omitempty"`
}

type PostVote struct {
	ID          string `json:"id"`
	PostID      string `json:"postId"`
	CommunityID string `json:"communityId"`
	VoteValue   int    `json:"voteValue"`
}

type Comment struct {
	ID                 string `json:"id"`
	PostID             string `json:"postId"`
	PostTitle          string `json:"postTitle"`
	CreatorID          string `json:"creatorId"`
	CreatorDisplayName string `json:"creatorDisplayName"`
	CommunityID        string `json:"communityId"`
	Text               string `json:"text"`
	CreatedAt          Time   `json:"createdAt"`
}

type User struct {
	UID         string `json:"uid"`
	DisplayName string `json:"displayName"`
	CreatedAt   Time   `json:"createdAt"`
}

type AccountKey struct {
	ID        string `json:"id"`
	UID       string `json:"uid"`
	Alg       string `json:"alg"`
	PublicKey string `json:"publicKey"`
	CreatedAt Time   `json:"createdAt"`
	RevokedAt *Time  `json:"revokedAt,omitempty"`
}

// Token is a signed bearer token issued at login.
type Token struct {
	Token     string `json:"token"`
	ExpiresAt Time   `json:"expiresAt"`
}

type Challenge struct {
	Challenge string `json:"challenge"`
	Alg       string `json:"alg"`
	ExpiresAt Time   `json:"expiresAt"`
}

// Time is a document timestamp encoded as unix milliseconds so that
// stored documents order by it numerically.
type Time struct {
	time.Time
}

func Now() Time {
	return TimeOf(time.Now())
}

func TimeOf(t time.Time) Time {
	return Time{Time: t.Truncate(time.Millisecond)}
}

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("0"), nil
	}
	return strconv.AppendInt(nil, t.UnixMilli(), 10), nil
}

func (t *Time) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" || s == "0" {
		t.Time = time.Time{}
		return nil
	}
	ms, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	t.Time = time.UnixMilli(int64(ms))
	return nil
}
