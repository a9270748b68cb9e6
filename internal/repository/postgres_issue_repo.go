package repository

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/hitoshi/siteaudit/internal/model"
)

// PostgresIssueRepo はPostgreSQLを使用した問題リポジトリ。
type PostgresIssueRepo struct {
	db *sql.DB
}

// NewPostgresIssueRepo はPostgresIssueRepoを生成する。
func NewPostgresIssueRepo(db *sql.DB) *PostgresIssueRepo {
	return &PostgresIssueRepo{db: db}
}

// UpsertBatch は問題を一括で保存する。既存の問題（同一ID）は
// details・updated_atのみ更新し、status・detected_atは維持する。
func (r *PostgresIssueRepo) UpsertBatch(ctx context.Context, issues []model.Issue) error {
	if len(issues) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO issues (id, site_id, url, category, type, severity, status,
		                     details, auto_fixable, suggested_fix, detected_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (id) DO UPDATE SET
		    details = EXCLUDED.details,
		    severity = EXCLUDED.severity,
		    suggested_fix = EXCLUDED.suggested_fix,
		    updated_at = EXCLUDED.updated_at`,
	)
	if err != nil {
		return fmt.Errorf("問題保存ステートメントの準備に失敗しました: %w", err)
	}
	defer stmt.Close()

	for _, issue := range issues {
		details, err := json.Marshal(issue.Details)
		if err != nil {
			return fmt.Errorf("問題詳細のエンコードに失敗しました: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			issue.ID, issue.SiteID, issue.URL,
			string(issue.Category), string(issue.Type), string(issue.Severity),
			string(issue.Status), details, issue.AutoFixable,
			nullString(issue.SuggestedFix), issue.DetectedAt, issue.UpdatedAt,
		); err != nil {
			return fmt.Errorf("問題の保存に失敗しました: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("問題保存のコミットに失敗しました: %w", err)
	}
	return nil
}

// FindByID は指定IDの問題を取得する。見つからない場合はnilを返す。
func (r *PostgresIssueRepo) FindByID(ctx context.Context, id string) (*model.Issue, error) {
	issue, err := scanIssue(r.db.QueryRowContext(ctx,
		`SELECT id, site_id, url, category, type, severity, status,
		        details, auto_fixable, suggested_fix, detected_at, updated_at
		 FROM issues WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("問題の取得に失敗しました: %w", err)
	}
	return issue, nil
}

// issueCursor はカーソルページネーションの継続位置。
// (detected_at, id)の複合キーで検出日時降順の安定した順序を保つ。
type issueCursor struct {
	DetectedAt time.Time `json:"detected_at"`
	ID         string    `json:"id"`
}

func encodeCursor(c issueCursor) string {
	data, _ := json.Marshal(c)
	return base64.URLEncoding.EncodeToString(data)
}

func decodeCursor(s string) (issueCursor, error) {
	var c issueCursor
	data, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return c, fmt.Errorf("カーソルのデコードに失敗しました: %w", err)
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("カーソルの解析に失敗しました: %w", err)
	}
	return c, nil
}

// ListBySite はサイトの問題を検出日時の降順で取得する。
// limit+1件取得して次ページの有無を判定し、続きがある場合のみ
// 継続カーソルを返す。
func (r *PostgresIssueRepo) ListBySite(ctx context.Context, siteID string, filter IssueFilter) ([]*model.Issue, string, error) {
	query := `SELECT id, site_id, url, category, type, severity, status,
	                 details, auto_fixable, suggested_fix, detected_at, updated_at
	          FROM issues WHERE site_id = $1`
	args := []any{siteID}

	if filter.Status != "" {
		args = append(args, filter.Status)
		query += " AND status = $" + strconv.Itoa(len(args))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		query += " AND category = $" + strconv.Itoa(len(args))
	}
	if filter.Severity != "" {
		args = append(args, filter.Severity)
		query += " AND severity = $" + strconv.Itoa(len(args))
	}
	if filter.Cursor != "" {
		cursor, err := decodeCursor(filter.Cursor)
		if err != nil {
			return nil, "", model.NewValidationError("カーソルが不正です")
		}
		args = append(args, cursor.DetectedAt, cursor.ID)
		query += fmt.Sprintf(" AND (detected_at, id) < ($%d, $%d)", len(args)-1, len(args))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit+1)
	query += " ORDER BY detected_at DESC, id DESC LIMIT $" + strconv.Itoa(len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("問題一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var issues []*model.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, "", fmt.Errorf("問題一覧の読み取りに失敗しました: %w", err)
		}
		issues = append(issues, issue)
	}

	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("問題一覧の走査に失敗しました: %w", err)
	}

	var nextCursor string
	if len(issues) > limit {
		issues = issues[:limit]
		last := issues[len(issues)-1]
		nextCursor = encodeCursor(issueCursor{DetectedAt: last.DetectedAt, ID: last.ID})
	}

	return issues, nextCursor, nil
}

// CountOpenBySite はサイトのopen状態の問題数を返す。
func (r *PostgresIssueRepo) CountOpenBySite(ctx context.Context, siteID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM issues WHERE site_id = $1 AND status = 'open'`,
		siteID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("open問題数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// UpdateStatus は問題のステータスを更新する。見つからない場合はnilを返す。
func (r *PostgresIssueRepo) UpdateStatus(ctx context.Context, id string, status model.Status) (*model.Issue, error) {
	issue, err := scanIssue(r.db.QueryRowContext(ctx,
		`UPDATE issues SET status = $2, updated_at = now()
		 WHERE id = $1
		 RETURNING id, site_id, url, category, type, severity, status,
		           details, auto_fixable, suggested_fix, detected_at, updated_at`,
		id, string(status),
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("問題ステータスの更新に失敗しました: %w", err)
	}
	return issue, nil
}

func scanIssue(row rowScanner) (*model.Issue, error) {
	issue := &model.Issue{}
	var category, issueType, severity, status string
	var details []byte
	var suggestedFix sql.NullString

	if err := row.Scan(
		&issue.ID, &issue.SiteID, &issue.URL,
		&category, &issueType, &severity, &status,
		&details, &issue.AutoFixable, &suggestedFix,
		&issue.DetectedAt, &issue.UpdatedAt,
	); err != nil {
		return nil, err
	}

	issue.Category = model.Category(category)
	issue.Type = model.Type(issueType)
	issue.Severity = model.Severity(severity)
	issue.Status = model.Status(status)
	issue.SuggestedFix = nullStringValue(suggestedFix)

	if len(details) > 0 {
		if err := json.Unmarshal(details, &issue.Details); err != nil {
			return nil, fmt.Errorf("問題詳細のデコードに失敗しました: %w", err)
		}
	}

	return issue, nil
}

// compile-time interface check
var _ IssueRepository = (*PostgresIssueRepo)(nil)
