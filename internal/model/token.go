// Package model はドメインモデルを定義する。
package model

import "time"

// expirySkew はトークン期限判定の余裕時間。
// 期限ぎりぎりのトークンでAPIを呼んで失敗するのを避ける。
const expirySkew = 60 * time.Second

// GoogleToken はサイト1件分のGSCアクセス用OAuth認証情報を表す。
// OAuthコールバック時に作成され、期限切れ時はaccess_tokenとexpires_atのみ
// 更新される（refresh_tokenは維持される）。
type GoogleToken struct {
	SiteID       string
	AccessToken  string
	RefreshToken string
	Scope        string
	TokenType    string
	ExpiresAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Expired はトークンが期限切れ（または期限間近）かを判定する。
func (t *GoogleToken) Expired(now time.Time) bool {
	return !now.Add(expirySkew).Before(t.ExpiresAt)
}

// OAuthState はOAuthフローのCSRF対策用stateトークンを表す。
// コールバック処理時に1回だけ消費される短命レコード。
type OAuthState struct {
	State     string
	SiteID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
