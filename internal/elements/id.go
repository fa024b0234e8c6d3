package elements

import (
	"strconv"
	"time"
)

// NewElementID derives an element id from the author and creation time in
// milliseconds. Two creations by the same user within one millisecond collide.
func NewElementID(userID string, createdAt time.Time) string {
	return userID + "_" + strconv.FormatInt(createdAt.UnixMilli(), 10)
}
