package redis

const (
	keyPrefix = "laisky/drive/"

	// KeyActivities is the default list receiving activity events.
	KeyActivities = keyPrefix + "activities"
	// KeyPrefixUsage prefixes the per-user storage usage mirror.
	KeyPrefixUsage = keyPrefix + "usage/"

	// ActivityListMaxLength is the list length that triggers a trim of the activity stream.
	ActivityListMaxLength = 1_000_000
	// ActivityListTrimSize is how many of the newest events survive a trim.
	ActivityListTrimSize = 900_000
)
