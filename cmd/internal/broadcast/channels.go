package broadcast

import (
	"strings"
)

// Channel kinds.
const (
	KindDrive         = "drive"
	KindUserTasks     = "user_tasks"
	KindUserDrives    = "user_drives"
	KindNotifications = "notifications"
	KindGlobalDrives  = "global_drives"
)

// GlobalDrives is the channel every connection receives drive-list-wide
// events on.
const GlobalDrives = "global:drives"

// DriveChannel names the channel for one drive's events.
func DriveChannel(driveID string) string {
	return "drive:" + driveID
}

// UserTasksChannel names the channel for one user's task events.
func UserTasksChannel(userID string) string {
	return "user:" + userID + ":tasks"
}

// UserDrivesChannel names the channel for one user's drive membership events.
func UserDrivesChannel(userID string) string {
	return "user:" + userID + ":drives"
}

// NotificationsChannel names the channel for one user's notifications.
func NotificationsChannel(userID string) string {
	return "notifications:" + userID
}

// Channel is a parsed channel name. Exactly one of DriveID and UserID is set
// except for the global kind, where neither is.
type Channel struct {
	Kind    string
	DriveID string
	UserID  string
}

// ParseChannel splits a channel name into its kind and scope id.
func ParseChannel(name string) (Channel, bool) {
	switch {
	case name == GlobalDrives:
		return Channel{Kind: KindGlobalDrives}, true

	case strings.HasPrefix(name, "drive:"):
		id := strings.TrimPrefix(name, "drive:")
		if id == "" {
			return Channel{}, false
		}
		return Channel{Kind: KindDrive, DriveID: id}, true

	case strings.HasPrefix(name, "notifications:"):
		id := strings.TrimPrefix(name, "notifications:")
		if id == "" {
			return Channel{}, false
		}
		return Channel{Kind: KindNotifications, UserID: id}, true

	case strings.HasPrefix(name, "user:"):
		rest := strings.TrimPrefix(name, "user:")
		id, scope, ok := strings.Cut(rest, ":")
		if !ok || id == "" {
			return Channel{}, false
		}
		switch scope {
		case "tasks":
			return Channel{Kind: KindUserTasks, UserID: id}, true
		case "drives":
			return Channel{Kind: KindUserDrives, UserID: id}, true
		}
		return Channel{}, false
	}

	return Channel{}, false
}
