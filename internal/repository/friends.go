package repository

import (
	"context"
	"database/sql"

	"github.com/consil800/lonely-care-sub004/internal/models"

	"go.uber.org/zap"
)

// FriendRepository 好友关系仓库（friends 表）
type FriendRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewFriendRepository 创建好友关系仓库
func NewFriendRepository(db *sql.DB, logger *zap.Logger) *FriendRepository {
	return &FriendRepository{
		db:     db,
		logger: logger,
	}
}

// ListActiveFriendLinks 获取所有有效的观察关系
// friend_name 优先取 users.name，缺失时回退到 friend_id
func (r *FriendRepository) ListActiveFriendLinks(ctx context.Context) ([]models.FriendLink, error) {
	query := `
		SELECT
			f.user_id,
			f.friend_id,
			COALESCE(u.name, f.friend_id) AS friend_name,
			COALESCE(u.phone, '') AS friend_phone,
			COALESCE(u.address, '') AS friend_address
		FROM friends f
		LEFT JOIN users u ON u.id = f.friend_id
		WHERE f.status = 'active'
		ORDER BY f.friend_id, f.user_id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, unavailable("query friend links", err)
	}
	defer rows.Close()

	var links []models.FriendLink
	for rows.Next() {
		var link models.FriendLink
		if err := rows.Scan(&link.ObserverID, &link.FriendID, &link.FriendName, &link.FriendPhone, &link.FriendAddress); err != nil {
			return nil, unavailable("scan friend link", err)
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate friend links", err)
	}

	return links, nil
}
