package repository

import (
	"fmt"

	"github.com/consil800/lonely-care-sub004/internal/models"

	"github.com/spf13/viper"
)

// friendLinkEntry 好友关系文件中的一条记录
type friendLinkEntry struct {
	ObserverID string `mapstructure:"observer_id"`
	FriendID   string `mapstructure:"friend_id"`
	FriendName string `mapstructure:"friend_name"`
	Phone      string `mapstructure:"phone"`
	Address    string `mapstructure:"address"`
}

// LoadFriendLinksFile 从 YAML 文件读取好友关系（memory 后端使用）
//
//	friends:
//	  - observer_id: observer-1
//	    friend_id: elder-1
//	    friend_name: Kim
//	    phone: 010-1234-5678
//	    address: Seoul
func LoadFriendLinksFile(path string) ([]models.FriendLink, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read friends file %s: %w", path, err)
	}

	var entries []friendLinkEntry
	if err := v.UnmarshalKey("friends", &entries); err != nil {
		return nil, fmt.Errorf("failed to parse friends file %s: %w", path, err)
	}

	links := make([]models.FriendLink, 0, len(entries))
	for i, e := range entries {
		if e.ObserverID == "" || e.FriendID == "" {
			return nil, fmt.Errorf("friends file %s: entry %d needs observer_id and friend_id", path, i)
		}
		name := e.FriendName
		if name == "" {
			name = e.FriendID
		}
		links = append(links, models.FriendLink{
			ObserverID:    e.ObserverID,
			FriendID:      e.FriendID,
			FriendName:    name,
			FriendPhone:   e.Phone,
			FriendAddress: e.Address,
		})
	}
	return links, nil
}
