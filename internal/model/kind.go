package model

// Kind names a remote table mirrored by the client.
type Kind string

const (
	KindNews          Kind = "news"
	KindLeaderboard   Kind = "leaderboard"
	KindTopPlayers    Kind = "top_players"
	KindAwards        Kind = "awards"
	KindClanRequests  Kind = "clan_requests"
	KindNotifications Kind = "notifications"

	// KindProfiles is only queried for viewer lookups and never synchronized.
	KindProfiles Kind = "profiles"
)

// Kinds lists the synchronized collections in display order.
func Kinds() []Kind {
	return []Kind{
		KindNews,
		KindLeaderboard,
		KindTopPlayers,
		KindAwards,
		KindClanRequests,
		KindNotifications,
	}
}

// Title returns a human-readable label for k.
func (k Kind) Title() string {
	switch k {
	case KindNews:
		return "News"
	case KindLeaderboard:
		return "Leaderboard"
	case KindTopPlayers:
		return "Top Players"
	case KindAwards:
		return "Awards"
	case KindClanRequests:
		return "Requests"
	case KindNotifications:
		return "Notifications"
	default:
		return string(k)
	}
}

// Valid reports whether k is one of the synchronized collections.
func (k Kind) Valid() bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}
	return false
}
