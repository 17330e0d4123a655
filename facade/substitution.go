package facade

import "time"

// Substitutions is the external collaborator (§6) that expands
// placeholders in a destination name, ARN, or subject. Implementations
// live outside this module (the appender shell owns hostname/pid/EC2
// metadata lookups); the core only defines the contract and the set of
// recognized placeholder tokens, and calls Expand only when a
// stream-name-based facade rotates, never per message (§4.4). Names given
// at construction are used unexpanded until the first rotation.
type Substitutions interface {
	// Expand replaces every recognized placeholder in pattern and returns
	// the result. now is passed explicitly so {date}/{timestamp}/
	// {hourlyTimestamp} are computed consistently within one
	// initialization or rotation cycle.
	Expand(pattern string, now time.Time) string
}

// Recognized placeholder tokens (§6). These are documented here for
// implementers of Substitutions; this module does not interpret them.
const (
	TokenDate             = "{date}"
	TokenTimestamp        = "{timestamp}"
	TokenHourlyTimestamp  = "{hourlyTimestamp}"
	TokenStartupTimestamp = "{startupTimestamp}"
	TokenPid              = "{pid}"
	TokenHostname         = "{hostname}"
	TokenSequence         = "{sequence}"
	TokenAWSAccountID     = "{aws:accountId}"
	TokenEC2InstanceID    = "{ec2:instanceId}"
	TokenEC2Region        = "{ec2:region}"
)

// HourlyBucket computes the "UTC hour-of-year bucket, truncated to
// seconds zero" value the Open Question in §9 specifies for
// {hourlyTimestamp}: derived from the raw epoch millis, not from a string
// truncation of the ISO timestamp (which the original Java source did,
// and which breaks around year boundaries).
func HourlyBucket(epochMillis int64) time.Time {
	t := time.UnixMilli(epochMillis).UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC)
}
