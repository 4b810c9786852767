package queuenames

const (
	ProfileSyncLikedVideos  = "profile_sync_liked_videos"
	ProfileScheduleAutoSync = "profile_schedule_auto_sync"
)
