package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agora/internal/db"
	"github.com/gosimple/slug"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	"gorm.io/gorm"
)

var (
	markdownEngine = goldmark.New(
		goldmark.WithExtensions(extension.GFM, extension.Linkify, extension.Table),
		goldmark.WithRendererOptions(html.WithHardWraps(), html.WithXHTML()),
	)
	sanitizer = bluemonday.UGCPolicy()
)

// TopicService 最小化的论坛内容模块，为积分规则提供动作来源
type TopicService struct {
	db            *gorm.DB
	activity      ActivityHook
	notifications *NotificationService
}

// TopicInput 发帖参数
type TopicInput struct {
	UserID  uint
	Title   string
	Content string
}

// TopicFilter 主题列表条件
type TopicFilter struct {
	Page
	UserID   uint
	Featured bool
}

// TopicPage 主题分页结果
type TopicPage struct {
	Items []db.Topic `json:"items"`
	Total int64      `json:"total"`
	Page  int        `json:"page"`
	Limit int        `json:"limit"`
}

// NewTopicService 构造 TopicService
func NewTopicService(gdb *gorm.DB) *TopicService {
	return &TopicService{db: gdb}
}

// WithActivity 注入动作联动
func (s *TopicService) WithActivity(a ActivityHook) *TopicService {
	s.activity = a
	return s
}

// WithNotifications 注入回复提醒
func (s *TopicService) WithNotifications(n *NotificationService) *TopicService {
	s.notifications = n
	return s
}

// RenderMarkdown 渲染 Markdown 并按 UGC 策略清洗
func RenderMarkdown(content string) (string, error) {
	var buf bytes.Buffer
	if err := markdownEngine.Convert([]byte(content), &buf); err != nil {
		return "", err
	}
	return string(sanitizer.SanitizeBytes(buf.Bytes())), nil
}

// CreateTopic 发布主题
func (s *TopicService) CreateTopic(ctx context.Context, input TopicInput) (*db.Topic, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, ErrTitleRequired
	}
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, ErrContentRequired
	}
	rendered, err := RenderMarkdown(content)
	if err != nil {
		return nil, fmt.Errorf("render topic: %w", err)
	}

	topic := db.Topic{
		UserID:      input.UserID,
		Title:       title,
		Slug:        slug.Make(title),
		Content:     content,
		ContentHTML: rendered,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := loadUser(tx, input.UserID); err != nil {
			return err
		}
		if err := tx.Create(&topic).Error; err != nil {
			return fmt.Errorf("create topic: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.activity != nil {
		s.activity.TopicCreated(ctx, &topic)
	}
	return &topic, nil
}

// List 分页查询主题
func (s *TopicService) List(ctx context.Context, filter TopicFilter) (TopicPage, error) {
	page := filter.Page.Normalize()
	query := s.db.WithContext(ctx).Model(&db.Topic{})
	if filter.UserID != 0 {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Featured {
		query = query.Where("featured = ?", true)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return TopicPage{}, fmt.Errorf("count topics: %w", err)
	}
	var items []db.Topic
	if err := query.Order("created_at DESC, id DESC").
		Offset(page.Offset()).Limit(page.Limit).
		Find(&items).Error; err != nil {
		return TopicPage{}, fmt.Errorf("list topics: %w", err)
	}
	return TopicPage{Items: items, Total: total, Page: page.Page, Limit: page.Limit}, nil
}

// Get 返回主题及其回复
func (s *TopicService) Get(ctx context.Context, id uint) (*db.Topic, error) {
	var topic db.Topic
	err := s.db.WithContext(ctx).
		Preload("Replies", func(tx *gorm.DB) *gorm.DB { return tx.Order("created_at ASC, id ASC") }).
		First(&topic, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTopicNotFound
		}
		return nil, fmt.Errorf("get topic: %w", err)
	}
	return &topic, nil
}

// CreateReply 回复主题
func (s *TopicService) CreateReply(ctx context.Context, topicID, userID uint, content string) (*db.Reply, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrContentRequired
	}
	rendered, err := RenderMarkdown(content)
	if err != nil {
		return nil, fmt.Errorf("render reply: %w", err)
	}

	var topic db.Topic
	reply := db.Reply{TopicID: topicID, UserID: userID, Content: content, ContentHTML: rendered}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&topic, topicID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTopicNotFound
			}
			return fmt.Errorf("get topic: %w", err)
		}
		if err := tx.Create(&reply).Error; err != nil {
			return fmt.Errorf("create reply: %w", err)
		}
		if err := tx.Model(&db.Topic{}).Where("id = ?", topicID).
			UpdateColumn("reply_count", gorm.Expr("reply_count + 1")).Error; err != nil {
			return fmt.Errorf("bump reply count: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.activity != nil {
		s.activity.ReplyCreated(ctx, &reply)
	}
	if topic.UserID != userID {
		notifyQuietly(ctx, s.notifications, NotifyInput{
			UserID:  topic.UserID,
			Type:    NotifyReply,
			Title:   "新回复",
			Content: fmt.Sprintf("你的主题「%s」有了新回复", topic.Title),
			Payload: map[string]interface{}{"topicId": topic.ID, "replyId": reply.ID},
		})
	}
	return &reply, nil
}

// LikeTopic 点赞主题
func (s *TopicService) LikeTopic(ctx context.Context, userID, topicID uint) (*db.Like, error) {
	return s.like(ctx, userID, db.LikeTargetTopic, topicID)
}

// LikeReply 点赞回复
func (s *TopicService) LikeReply(ctx context.Context, userID, replyID uint) (*db.Like, error) {
	return s.like(ctx, userID, db.LikeTargetReply, replyID)
}

func (s *TopicService) like(ctx context.Context, userID uint, targetType string, targetID uint) (*db.Like, error) {
	var like db.Like
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model interface{}
		var ownerID uint
		switch targetType {
		case db.LikeTargetTopic:
			var topic db.Topic
			if err := tx.First(&topic, targetID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrTopicNotFound
				}
				return fmt.Errorf("get topic: %w", err)
			}
			model, ownerID = &db.Topic{}, topic.UserID
		default:
			var reply db.Reply
			if err := tx.First(&reply, targetID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrReplyNotFound
				}
				return fmt.Errorf("get reply: %w", err)
			}
			model, ownerID = &db.Reply{}, reply.UserID
		}
		if ownerID == userID {
			return ErrCannotLikeOwn
		}

		like = db.Like{UserID: userID, TargetType: targetType, TargetID: targetID, OwnerID: ownerID}
		if err := tx.Create(&like).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAlreadyLiked
			}
			return fmt.Errorf("create like: %w", err)
		}
		if err := tx.Model(model).Where("id = ?", targetID).
			UpdateColumn("like_count", gorm.Expr("like_count + 1")).Error; err != nil {
			return fmt.Errorf("bump like count: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.activity != nil {
		s.activity.LikeGiven(ctx, &like)
	}
	return &like, nil
}

// SetFeatured 设置或取消精华；只有从非精华变为精华时才触发奖励
func (s *TopicService) SetFeatured(ctx context.Context, topicID uint, featured bool) (*db.Topic, error) {
	res := s.db.WithContext(ctx).Model(&db.Topic{}).
		Where("id = ? AND featured = ?", topicID, !featured).
		Update("featured", featured)
	if res.Error != nil {
		return nil, fmt.Errorf("set featured: %w", res.Error)
	}

	var topic db.Topic
	if err := s.db.WithContext(ctx).First(&topic, topicID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTopicNotFound
		}
		return nil, fmt.Errorf("get topic: %w", err)
	}
	if featured && res.RowsAffected == 1 && s.activity != nil {
		s.activity.TopicFeatured(ctx, &topic)
	}
	return &topic, nil
}
