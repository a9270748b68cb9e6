// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, auth, resource, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation   = "VALIDATION_ERROR"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeNotConnected = "NOT_CONNECTED"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeRateLimited  = "RATE_LIMITED"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// NewValidationError はリクエスト内容の不備によるエラーを生成する。
// 常にクライアント起因であり、HTTPステータス400に対応する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を入力してください。",
	}
}

// NewUnknownCheckError は未知のチェック名エラーを生成する。
func NewUnknownCheckError(check string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("未知のチェック名です: %s", check),
		Category: "validation",
		Action:   "checksには structured_data、indexing、performance、mobile のいずれかを指定してください。",
	}
}

// NewInvalidStatusError は無効なステータス値エラーを生成する。
func NewInvalidStatusError(status string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("無効なステータスです: %s", status),
		Category: "validation",
		Action:   "statusには open、fixing、fixed、wontfix のいずれかを指定してください。",
	}
}

// NewNotConnectedError はGSC未連携エラーを生成する。
func NewNotConnectedError(siteID string) *APIError {
	return &APIError{
		Code:     ErrCodeNotConnected,
		Message:  fmt.Sprintf("サイトがGoogle Search Consoleと連携されていません: %s", siteID),
		Category: "auth",
		Action:   "/auth/google からGoogleアカウントを連携してください。",
	}
}

// NewIssueNotFoundError は問題未検出エラーを生成する。
func NewIssueNotFoundError(issueID string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("指定された問題が見つかりません: %s", issueID),
		Category: "resource",
		Action:   "問題IDを確認してください。",
	}
}

// NewSiteNotFoundError はサイト未検出エラーを生成する。
func NewSiteNotFoundError(siteID string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("指定されたサイトが見つかりません: %s", siteID),
		Category: "resource",
		Action:   "サイトIDを確認してください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエスト数が制限を超えています。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
