package anr

import (
	"time"

	"github.com/danr/processor/internal/timeutil"
)

type (
	ThreadInfo struct {
		ID           int      `json:"id"`
		IsMainThread bool     `json:"isMainThread"`
		Name         string   `json:"name"`
		StackTrace   []string `json:"stackTrace"`
		State        string   `json:"state"`
	}

	DeviceInfo struct {
		AndroidVersion string `json:"androidVersion,omitempty"`
		APILevel       int    `json:"apiLevel,omitempty"`
		AvailableRAM   int64  `json:"availableRam,omitempty"`
		DeviceID       string `json:"deviceId,omitempty"`
		Manufacturer   string `json:"manufacturer,omitempty"`
		Model          string `json:"model,omitempty"`
		TotalRAM       int64  `json:"totalRam,omitempty"`
	}

	AppInfo struct {
		IsForeground bool   `json:"isForeground"`
		PackageName  string `json:"packageName"`
		VersionCode  int64  `json:"versionCode,omitempty"`
		VersionName  string `json:"versionName,omitempty"`
	}

	// Report is an ANR occurrence as sent by a device.
	Report struct {
		AllThreads []ThreadInfo `json:"allThreads"`
		AppInfo    AppInfo      `json:"appInfo"`
		DeviceInfo DeviceInfo   `json:"deviceInfo"`
		Duration   int64        `json:"duration"`
		MainThread *ThreadInfo  `json:"mainThread"`
		// Timestamp is epoch milliseconds or an RFC 3339 string on the wire.
		Timestamp timeutil.Millis `json:"timestamp"`
	}

	// ANR is a distinct main thread trace and how often it was reported.
	ANR struct {
		AllThreads      []ThreadInfo    `json:"allThreads"`
		AppInfo         AppInfo         `json:"appInfo"`
		DeviceInfo      DeviceInfo      `json:"deviceInfo"`
		Duration        int64           `json:"duration"`
		FirstOccurrence time.Time       `json:"firstOccurrence"`
		GroupID         string          `json:"groupId,omitempty"`
		ID              string          `json:"id"`
		LastOccurrence  time.Time       `json:"lastOccurrence"`
		MainThread      ThreadInfo      `json:"mainThread"`
		OccurrenceCount int             `json:"occurrenceCount"`
		StackTraceHash  string          `json:"stackTraceHash"`
		Timestamp       timeutil.Millis `json:"timestamp"`
	}

	// Group clusters ANRs with similar main thread traces.
	Group struct {
		ANRIDs            []string  `json:"anrIds"`
		Count             int       `json:"count"`
		FirstSeen         time.Time `json:"firstSeen"`
		ID                string    `json:"id"`
		LastSeen          time.Time `json:"lastSeen"`
		Similarity        float64   `json:"similarity"`
		StackTraceHash    string    `json:"stackTraceHash"`
		StackTracePattern string    `json:"stackTracePattern"`
	}
)

// Filter narrows down ANR listings.
type Filter struct {
	DeviceID    string
	GroupID     string
	PackageName string
}

func (f Filter) Match(a ANR) bool {
	if f.GroupID != "" && a.GroupID != f.GroupID {
		return false
	}
	if f.DeviceID != "" && a.DeviceInfo.DeviceID != f.DeviceID {
		return false
	}
	if f.PackageName != "" && a.AppInfo.PackageName != f.PackageName {
		return false
	}
	return true
}

func (g *Group) hasMember(id string) bool {
	for _, m := range g.ANRIDs {
		if m == id {
			return true
		}
	}
	return false
}

func (g *Group) addMember(id string, at time.Time) {
	if !g.hasMember(id) {
		g.ANRIDs = append(g.ANRIDs, id)
	}
	g.Count = len(g.ANRIDs)
	if at.After(g.LastSeen) {
		g.LastSeen = at
	}
}

func (g *Group) removeMember(id string) {
	members := g.ANRIDs[:0]
	for _, m := range g.ANRIDs {
		if m != id {
			members = append(members, m)
		}
	}
	g.ANRIDs = members
	g.Count = len(g.ANRIDs)
}

// occurredAt returns the report time, falling back to now when the device
// did not send one.
func (r Report) occurredAt(now time.Time) time.Time {
	if r.Timestamp <= 0 {
		return now
	}
	return r.Timestamp.Time()
}
