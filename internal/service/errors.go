package service

import "errors"

var (
	// ErrUserNotFound 在目标用户不存在时返回
	ErrUserNotFound = errors.New("user not found")
	// ErrUnknownPointRule 在积分动作未定义时返回
	ErrUnknownPointRule = errors.New("unknown point rule")
	// ErrInsufficientBalance 当扣减后余额会小于 0 时返回
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInvalidAmount 扣减数量必须为正
	ErrInvalidAmount = errors.New("invalid amount")

	ErrNameRequired         = errors.New("name is required")
	ErrBadgeNotFound        = errors.New("badge not found")
	ErrSpecialTagNotFound   = errors.New("special tag not found")
	ErrUserTagNotFound      = errors.New("user special tag not found")
	ErrTagAlreadyGranted    = errors.New("special tag already granted")
	ErrDailyTaskNotFound    = errors.New("daily task not found")
	ErrInvalidDailyTaskType = errors.New("invalid daily task type")

	ErrPunishmentNotFound  = errors.New("punishment not found")
	ErrPunishmentNotActive = errors.New("punishment is not active")
	ErrInvalidPunishment   = errors.New("invalid punishment type")
	ErrInvalidSeverity     = errors.New("severity must be between 1 and 5")
	ErrInvalidDuration     = errors.New("duration must be positive and at most ten years")

	ErrAppealNotFound   = errors.New("appeal not found")
	ErrAppealNotPending = errors.New("appeal already reviewed")
	ErrDuplicateAppeal  = errors.New("a pending appeal already exists for this punishment")
	ErrReasonRequired   = errors.New("reason is required")

	ErrBatchNotFound    = errors.New("batch operation not found")
	ErrInvalidBatchType = errors.New("invalid batch operation type")
	ErrEmptyBatch       = errors.New("batch operation has no targets")

	ErrNotificationNotFound = errors.New("notification not found")

	ErrTopicNotFound      = errors.New("topic not found")
	ErrReplyNotFound      = errors.New("reply not found")
	ErrTitleRequired      = errors.New("title is required")
	ErrContentRequired    = errors.New("content is required")
	ErrAlreadyLiked       = errors.New("already liked")
	ErrCannotLikeOwn      = errors.New("cannot like own content")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidUsername    = errors.New("username must be 3-32 characters")
	ErrWeakPassword       = errors.New("password must be at least 6 characters")
)
