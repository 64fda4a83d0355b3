package cache

import "strings"

const (
	ViewProfile   = "profile"
	ViewFollowers = "followers"
	ViewFollowing = "following"
)

func ProfileKey(userID string) string {
	return ViewProfile + ":" + userID
}

func FollowersKey(userID string) string {
	return ViewFollowers + ":" + userID
}

func FollowingKey(userID string) string {
	return ViewFollowing + ":" + userID
}

// viewOf returns the prefix of a key, used as a low-cardinality metric label.
func viewOf(key string) string {
	view, _, ok := strings.Cut(key, ":")
	if !ok {
		return "other"
	}
	return view
}
