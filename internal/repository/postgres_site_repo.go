package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/siteaudit/internal/model"
)

// PostgresSiteRepo はPostgreSQLを使用したサイトリポジトリ。
type PostgresSiteRepo struct {
	db *sql.DB
}

// NewPostgresSiteRepo はPostgresSiteRepoを生成する。
func NewPostgresSiteRepo(db *sql.DB) *PostgresSiteRepo {
	return &PostgresSiteRepo{db: db}
}

// Upsert はサイトを登録する。同一IDの既存サイトは設定が上書きされるが、
// last_check・open_issuesなどの検証状態は維持される。
func (r *PostgresSiteRepo) Upsert(ctx context.Context, site *model.Site) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sites (site_id, site_url, sitemap_url, gsc_property,
		                    check_schedule, notification_webhook, notification_email,
		                    next_check, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		 ON CONFLICT (site_id) DO UPDATE SET
		    site_url = EXCLUDED.site_url,
		    sitemap_url = EXCLUDED.sitemap_url,
		    gsc_property = EXCLUDED.gsc_property,
		    check_schedule = EXCLUDED.check_schedule,
		    notification_webhook = EXCLUDED.notification_webhook,
		    notification_email = EXCLUDED.notification_email,
		    next_check = EXCLUDED.next_check,
		    updated_at = now()`,
		site.ID, site.SiteURL, nullString(site.SitemapURL), nullString(site.GSCProperty),
		string(site.CheckSchedule), nullString(site.NotificationWebhook),
		nullString(site.NotificationEmail), site.NextCheck,
	)
	if err != nil {
		return fmt.Errorf("サイトの登録に失敗しました: %w", err)
	}
	return nil
}

// FindByID は指定IDのサイトを取得する。見つからない場合はnilを返す。
func (r *PostgresSiteRepo) FindByID(ctx context.Context, id string) (*model.Site, error) {
	site, err := scanSite(r.db.QueryRowContext(ctx,
		`SELECT site_id, site_url, sitemap_url, gsc_property, check_schedule,
		        notification_webhook, notification_email, last_check, next_check,
		        open_issues, created_at, updated_at
		 FROM sites WHERE site_id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("サイトの取得に失敗しました: %w", err)
	}
	return site, nil
}

// List は全サイトを登録日時の昇順で取得する。
func (r *PostgresSiteRepo) List(ctx context.Context) ([]*model.Site, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT site_id, site_url, sitemap_url, gsc_property, check_schedule,
		        notification_webhook, notification_email, last_check, next_check,
		        open_issues, created_at, updated_at
		 FROM sites ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("サイト一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var sites []*model.Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, fmt.Errorf("サイト一覧の読み取りに失敗しました: %w", err)
		}
		sites = append(sites, site)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("サイト一覧の走査に失敗しました: %w", err)
	}

	return sites, nil
}

// ListDueForCheck は再検証対象のサイトを取得する。
// next_check <= now() のサイトをFOR UPDATE SKIP LOCKEDで排他的に取得する。
func (r *PostgresSiteRepo) ListDueForCheck(ctx context.Context) ([]*model.Site, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT site_id, site_url, sitemap_url, gsc_property, check_schedule,
		        notification_webhook, notification_email, last_check, next_check,
		        open_issues, created_at, updated_at
		 FROM sites
		 WHERE next_check <= now()
		 ORDER BY next_check ASC
		 FOR UPDATE SKIP LOCKED`,
	)
	if err != nil {
		return nil, fmt.Errorf("再検証対象サイトの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var sites []*model.Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, fmt.Errorf("再検証対象サイトの読み取りに失敗しました: %w", err)
		}
		sites = append(sites, site)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("再検証対象サイトの走査に失敗しました: %w", err)
	}

	return sites, nil
}

// UpdateCheckState は検証完了後の状態（last_check、next_check、open_issues）を更新する。
func (r *PostgresSiteRepo) UpdateCheckState(ctx context.Context, site *model.Site) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sites SET
		    last_check = $2,
		    next_check = $3,
		    open_issues = $4,
		    updated_at = now()
		 WHERE site_id = $1`,
		site.ID, site.LastCheck, site.NextCheck, site.OpenIssues,
	)
	if err != nil {
		return fmt.Errorf("検証状態の更新に失敗しました: %w", err)
	}
	return nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通スキャンインターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSite(row rowScanner) (*model.Site, error) {
	site := &model.Site{}
	var sitemapURL, gscProperty, webhook, email sql.NullString
	var lastCheck sql.NullTime
	var schedule string

	if err := row.Scan(
		&site.ID, &site.SiteURL, &sitemapURL, &gscProperty, &schedule,
		&webhook, &email, &lastCheck, &site.NextCheck,
		&site.OpenIssues, &site.CreatedAt, &site.UpdatedAt,
	); err != nil {
		return nil, err
	}

	site.SitemapURL = nullStringValue(sitemapURL)
	site.GSCProperty = nullStringValue(gscProperty)
	site.CheckSchedule = model.CheckSchedule(schedule)
	site.NotificationWebhook = nullStringValue(webhook)
	site.NotificationEmail = nullStringValue(email)
	if lastCheck.Valid {
		site.LastCheck = &lastCheck.Time
	}

	return site, nil
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// compile-time interface check
var _ SiteRepository = (*PostgresSiteRepo)(nil)
