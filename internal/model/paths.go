package model

// Collection paths.
const (
	CommunitiesPath = "communities"
	PostsPath       = "posts"
	CommentsPath    = "comments"
	UsersPath       = "users"
	AccountKeysPath = "accountKeys"
	ChallengesPath  = "authChallenges"
	// UsernamesPath reserves display names; ids are lowercased names.
	UsernamesPath   = "usernames"
)

// SnippetsPath is the collection of uid's community memberships.
func SnippetsPath(uid string) string {
	return UsersPath + "/" + uid + "/communitySnippets"
}

// VotesPath is the collection of uid's post votes, keyed by post id.
func VotesPath(uid string) string {
	return UsersPath + "/" + uid + "/postVotes"
}
