package dispatcher

import (
	"fmt"
	"strconv"
	"time"

	"github.com/consil800/lonely-care-sub004/internal/models"

	"github.com/google/uuid"
)

var alertTitles = map[models.AlertLevel]string{
	models.AlertLevelWarning:   "Friend status notice",
	models.AlertLevelDanger:    "Friend status warning",
	models.AlertLevelEmergency: "Friend status emergency",
}

var alertSuffixes = map[models.AlertLevel]string{
	models.AlertLevelDanger:    " Check needed.",
	models.AlertLevelEmergency: " Check immediately!",
}

// BuildNotification 生成好友状态通知
func BuildNotification(recipientID string, req Request, now time.Time) models.Notification {
	title, ok := alertTitles[req.Level]
	if !ok {
		title = "Friend notice"
	}

	hours := int(req.Elapsed.Hours())

	data := map[string]string{
		"friendId":            req.PersonID,
		"friendName":          req.PersonName,
		"hoursSinceHeartbeat": strconv.Itoa(hours),
	}
	if req.LastHeartbeatAt != nil {
		data["lastActive"] = req.LastHeartbeatAt.UTC().Format(time.RFC3339)
	}

	return models.Notification{
		RecipientID:      recipientID,
		Title:            title,
		Body:             fmt.Sprintf("%s has not responded for %d hours.%s", req.PersonName, hours, alertSuffixes[req.Level]),
		Type:             models.NotificationTypeFriendStatus,
		AlertLevel:       req.Level,
		ObservedPersonID: req.PersonID,
		Data:             data,
		CreatedAt:        now,
	}
}

// BuildEmergencyReport 生成紧急服务上报内容；联系方式缺失时填占位文本
func BuildEmergencyReport(req Request, now time.Time) models.EmergencyReport {
	phone := req.PersonPhone
	if phone == "" {
		phone = "unknown"
	}
	address := req.PersonAddress
	if address == "" {
		address = "unknown"
	}

	return models.EmergencyReport{
		ReportID:            uuid.New().String(),
		PersonID:            req.PersonID,
		Name:                req.PersonName,
		Phone:               phone,
		Address:             address,
		HoursSinceHeartbeat: int(req.Elapsed.Hours()),
		LastHeartbeatAt:     req.LastHeartbeatAt,
		ReportedAt:          now,
	}
}
