package cache

import "fmt"

// Key layout:
// - roomKey(dashboardID):  online participants (ZSet<userId, expireAtUnix>, score=expireAt)
// - namesKey(dashboardID): userId -> username (Hash)
// - cursorKey:             last pointer position per participant (String, short TTL)

const (
	keyRoomFmt   = "collab:room:{dash:%s}"
	keyNamesFmt  = "collab:room:names:{dash:%s}"
	keyCursorFmt = "collab:cursor:{dash:%s}:%d"
)

func roomKey(dashboardID string) string  { return fmt.Sprintf(keyRoomFmt, dashboardID) }
func namesKey(dashboardID string) string { return fmt.Sprintf(keyNamesFmt, dashboardID) }
func cursorKey(dashboardID string, userID uint64) string {
	return fmt.Sprintf(keyCursorFmt, dashboardID, userID)
}
