package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/plant-for-the-planet/firealert/internal/db"
	"github.com/plant-for-the-planet/firealert/internal/model"
	"github.com/plant-for-the-planet/firealert/internal/spatial"
)

// Postgres implements Store on PostGIS.
type Postgres struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a Postgres store with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*Postgres, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &Postgres{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. The caller owns the pool.
func NewPostgresFromPool(pool db.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Pool returns the underlying pool for subsystems that share the database,
// such as the run lock.
func (s *Postgres) Pool() db.Pool {
	return s.pool
}

func (s *Postgres) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *Postgres) Migrate(ctx context.Context) error {
	return Migrate(ctx, s.pool)
}

func (s *Postgres) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const providerColumns = `id, type, client_id, client_api_key, config, is_active, fetch_frequency_minutes, last_run`

func scanProviders(rows pgx.Rows) ([]model.Provider, error) {
	defer rows.Close()
	var out []model.Provider
	for rows.Next() {
		var (
			p   model.Provider
			cfg []byte
		)
		if err := rows.Scan(&p.ID, &p.Type, &p.ClientID, &p.ClientAPIKey, &cfg,
			&p.IsActive, &p.FetchFrequencyMinutes, &p.LastRun); err != nil {
			return nil, eris.Wrap(err, "postgres: scan provider")
		}
		p.Config = cfg
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Postgres) FindEligibleProviders(ctx context.Context, now time.Time, limit int) ([]model.Provider, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+providerColumns+`
		FROM geo_event_providers
		WHERE is_active
		  AND (last_run IS NULL OR last_run + make_interval(mins => fetch_frequency_minutes) <= $1)
		ORDER BY last_run + make_interval(mins => fetch_frequency_minutes) ASC NULLS FIRST, id
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, persistErr("find eligible providers", err)
	}
	providers, err := scanProviders(rows)
	return providers, persistErr("find eligible providers", err)
}

func (s *Postgres) ListProviders(ctx context.Context) ([]model.Provider, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+providerColumns+` FROM geo_event_providers ORDER BY id`)
	if err != nil {
		return nil, persistErr("list providers", err)
	}
	providers, err := scanProviders(rows)
	return providers, persistErr("list providers", err)
}

func (s *Postgres) UpsertProvider(ctx context.Context, p model.Provider) error {
	cfg := []byte(p.Config)
	if len(cfg) == 0 {
		cfg = []byte("{}")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO geo_event_providers
			(id, type, client_id, client_api_key, config, is_active, fetch_frequency_minutes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type,
			client_id = EXCLUDED.client_id,
			client_api_key = EXCLUDED.client_api_key,
			config = EXCLUDED.config,
			is_active = EXCLUDED.is_active,
			fetch_frequency_minutes = EXCLUDED.fetch_frequency_minutes,
			updated_at = now()`,
		p.ID, p.Type, p.ClientID, p.ClientAPIKey, cfg, p.IsActive, p.FetchFrequencyMinutes)
	return persistErr("upsert provider", err)
}

func (s *Postgres) UpdateLastRun(ctx context.Context, providerID string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE geo_event_providers SET last_run = $2, updated_at = now() WHERE id = $1`,
		providerID, at)
	return persistErr("update last run", err)
}

func collectIDs(rows pgx.Rows) ([]string, error) {
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Postgres) FetchExistingIDs(ctx context.Context, providerID string, since time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM geo_events WHERE provider_id = $1 AND event_date >= $2`,
		providerID, since)
	if err != nil {
		return nil, persistErr("fetch existing ids", err)
	}
	ids, err := collectIDs(rows)
	return ids, persistErr("fetch existing ids", err)
}

var eventInsert = db.InsertConfig{
	Table: "public.geo_events",
	Columns: []string{
		"id", "type", "latitude", "longitude", "event_date", "confidence",
		"provider_id", "provider_client_id", "slice", "is_processed", "raw_data",
	},
	ConflictKeys: []string{"id"},
}

func (s *Postgres) InsertEvents(ctx context.Context, events []model.GeoEvent, batchSize int) (int64, error) {
	rows := make([][]any, len(events))
	for i, e := range events {
		var raw []byte
		if len(e.RawData) > 0 {
			raw = e.RawData
		}
		rows[i] = []any{
			e.ID, e.Type, e.Latitude, e.Longitude, e.EventDate.UTC(), string(e.Confidence),
			e.ProviderID, e.ProviderClientID, e.Slice, e.IsProcessed, raw,
		}
	}
	cfg := eventInsert
	cfg.BatchSize = batchSize
	n, err := db.BulkInsert(ctx, s.pool, cfg, rows)
	return n, persistErr("insert events", err)
}

func (s *Postgres) FindUnprocessedByProvider(ctx context.Context, providerID string, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM geo_events
		WHERE provider_id = $1 AND is_processed = false
		ORDER BY event_date, id
		LIMIT $2`, providerID, limit)
	if err != nil {
		return nil, persistErr("find unprocessed events", err)
	}
	ids, err := collectIDs(rows)
	return ids, persistErr("find unprocessed events", err)
}

func (s *Postgres) MarkProcessed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `UPDATE geo_events SET is_processed = true WHERE id = ANY($1)`, ids)
	return persistErr("mark events processed", err)
}

// matchSQL inserts one alert per (event, site) pair. Point and Polygon sites
// are tested against their detection geometry with site-level slices.
// MultiPolygon sites are tested per fragment; $2 selects fragment-level
// slices for geostationary sources.
const matchSQL = `
WITH batch AS (
	SELECT e.id, e.type, e.latitude, e.longitude, e.event_date, e.confidence,
	       e.provider_client_id, e.slice, e.raw_data, e.geometry
	FROM geo_events e
	WHERE e.id = ANY($1) AND e.is_processed = false
),
matched AS (
	SELECT b.type, b.latitude, b.longitude, b.event_date, b.confidence,
	       b.provider_client_id, b.raw_data, b.geometry, s.id AS site_id, s.geometry AS site_geometry
	FROM batch b
	JOIN sites s
	  ON s.type IN ('Polygon', 'Point')
	 AND b.slice = ANY(s.slices)
	 AND ST_Intersects(b.geometry, s.detection_geometry)
	WHERE s.deleted_at IS NULL
	  AND s.is_monitored
	  AND (s.stop_alert_until IS NULL OR s.stop_alert_until < $3)
	UNION ALL
	(
	SELECT DISTINCT ON (b.id, s.id)
	       b.type, b.latitude, b.longitude, b.event_date, b.confidence,
	       b.provider_client_id, b.raw_data, b.geometry, s.id AS site_id, s.geometry AS site_geometry
	FROM batch b
	JOIN site_fragments f ON ST_Intersects(b.geometry, f.detection_geometry)
	JOIN sites s ON s.id = f.site_id AND s.type = 'MultiPolygon'
	WHERE s.deleted_at IS NULL
	  AND s.is_monitored
	  AND (s.stop_alert_until IS NULL OR s.stop_alert_until < $3)
	  AND CASE WHEN $2::boolean THEN b.slice = ANY(f.slices) ELSE b.slice = ANY(s.slices) END
	ORDER BY b.id, s.id, f.fragment_index
	)
),
inserted AS (
	INSERT INTO site_alerts
		(id, type, event_date, detected_by, confidence, latitude, longitude, site_id, distance, is_processed, raw_data)
	SELECT gen_random_uuid()::text, m.type, m.event_date, m.provider_client_id, m.confidence,
	       m.latitude, m.longitude, m.site_id,
	       ST_Distance(m.geometry::geography, m.site_geometry::geography), false, m.raw_data
	FROM matched m
	WHERE NOT EXISTS (
		SELECT 1 FROM site_alerts a
		WHERE a.site_id = m.site_id
		  AND a.latitude = m.latitude
		  AND a.longitude = m.longitude
		  AND a.event_date = m.event_date
	)
	ON CONFLICT (site_id, latitude, longitude, event_date) DO NOTHING
	RETURNING 1
)
SELECT count(*) FROM inserted`

func (s *Postgres) MatchBatch(ctx context.Context, req MatchRequest) (int64, error) {
	if len(req.EventIDs) == 0 {
		return 0, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, persistErr("match batch", eris.Wrap(err, "begin tx"))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var created int64
	if err := tx.QueryRow(ctx, matchSQL, req.EventIDs, req.Geostationary, req.Now).Scan(&created); err != nil {
		return 0, persistErr("match batch", eris.Wrap(err, "spatial match"))
	}

	if req.Geostationary {
		_, err = tx.Exec(ctx,
			`UPDATE geo_events SET is_processed = true WHERE id = ANY($1) AND provider_client_id = $2`,
			req.EventIDs, req.ClientID)
	} else {
		_, err = tx.Exec(ctx, `UPDATE geo_events SET is_processed = true WHERE id = ANY($1)`, req.EventIDs)
	}
	if err != nil {
		return 0, persistErr("match batch", eris.Wrap(err, "mark processed"))
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, persistErr("match batch", eris.Wrap(err, "commit"))
	}
	return created, nil
}

func (s *Postgres) GetSite(ctx context.Context, id string) (*model.Site, error) {
	var (
		site     model.Site
		gtype    string
		raw, det []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, user_id, type, ST_AsEWKB(geometry), ST_AsEWKB(detection_geometry),
		       slices, is_monitored, stop_alert_until, deleted_at
		FROM sites WHERE id = $1 AND deleted_at IS NULL`, id).
		Scan(&site.ID, &site.Name, &site.UserID, &gtype, &raw, &det,
			&site.Slices, &site.IsMonitored, &site.StopAlertUntil, &site.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSiteNotFound
	}
	if err != nil {
		return nil, persistErr("get site", err)
	}
	site.GeometryType = model.GeometryType(gtype)
	if site.Geometry, err = spatial.DecodeEWKB(raw); err != nil {
		return nil, err
	}
	if site.DetectionGeometry, err = spatial.DecodeEWKB(det); err != nil {
		return nil, err
	}

	if site.GeometryType == model.GeometryMultiPolygon {
		if site.Fragments, err = s.siteFragments(ctx, id); err != nil {
			return nil, err
		}
	}
	return &site, nil
}

func (s *Postgres) siteFragments(ctx context.Context, siteID string) ([]model.SiteFragment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT fragment_index, ST_AsEWKB(detection_geometry), slices
		FROM site_fragments WHERE site_id = $1 ORDER BY fragment_index`, siteID)
	if err != nil {
		return nil, persistErr("get site fragments", err)
	}
	defer rows.Close()

	var out []model.SiteFragment
	for rows.Next() {
		var (
			f   model.SiteFragment
			det []byte
		)
		if err := rows.Scan(&f.Index, &det, &f.Slices); err != nil {
			return nil, persistErr("get site fragments", err)
		}
		if f.DetectionGeometry, err = spatial.DecodeEWKB(det); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, persistErr("get site fragments", rows.Err())
}

func (s *Postgres) CreateNotifications(ctx context.Context, limit int) (EmitResult, error) {
	var res EmitResult
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return res, persistErr("create notifications", eris.Wrap(err, "begin tx"))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	rows, err := tx.Query(ctx, `
		WITH pending AS (
			SELECT a.id, s.user_id
			FROM site_alerts a
			JOIN sites s ON s.id = a.site_id
			WHERE a.is_processed = false
			ORDER BY a.created_at, a.id
			LIMIT $1
			FOR UPDATE OF a SKIP LOCKED
		)
		SELECT p.id, m.method, m.destination
		FROM pending p
		LEFT JOIN alert_methods m
		  ON m.user_id = p.user_id AND m.is_enabled AND m.is_verified`, limit)
	if err != nil {
		return res, persistErr("create notifications", eris.Wrap(err, "select pending alerts"))
	}

	var (
		alertIDs                     []string
		ids, nAlerts, methods, dests []string
	)
	seen := make(map[string]bool)
	for rows.Next() {
		var (
			alertID      string
			method, dest *string
		)
		if err := rows.Scan(&alertID, &method, &dest); err != nil {
			rows.Close()
			return res, persistErr("create notifications", eris.Wrap(err, "scan pending alert"))
		}
		if !seen[alertID] {
			seen[alertID] = true
			alertIDs = append(alertIDs, alertID)
		}
		if method == nil || dest == nil {
			continue
		}
		ids = append(ids, uuid.NewString())
		nAlerts = append(nAlerts, alertID)
		methods = append(methods, *method)
		dests = append(dests, *dest)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return res, persistErr("create notifications", err)
	}
	if len(alertIDs) == 0 {
		return res, nil
	}

	if len(ids) > 0 {
		tag, err := tx.Exec(ctx, `
			INSERT INTO notifications (id, site_alert_id, alert_method, destination, is_delivered)
			SELECT u.id, u.alert_id, u.method, u.destination, false
			FROM unnest($1::text[], $2::text[], $3::text[], $4::text[]) AS u(id, alert_id, method, destination)
			ON CONFLICT (site_alert_id, alert_method, destination) DO NOTHING`,
			ids, nAlerts, methods, dests)
		if err != nil {
			return res, persistErr("create notifications", eris.Wrap(err, "insert notifications"))
		}
		res.Notifications = tag.RowsAffected()
	}

	if _, err := tx.Exec(ctx, `UPDATE site_alerts SET is_processed = true WHERE id = ANY($1)`, alertIDs); err != nil {
		return res, persistErr("create notifications", eris.Wrap(err, "mark alerts processed"))
	}
	if err := tx.Commit(ctx); err != nil {
		return EmitResult{}, persistErr("create notifications", eris.Wrap(err, "commit"))
	}
	res.Alerts = int64(len(alertIDs))
	return res, nil
}

func (s *Postgres) PendingNotifications(ctx context.Context, limit int) ([]model.PendingNotification, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT n.id, n.site_alert_id, n.alert_method, n.destination, n.created_at,
		       a.type, a.event_date, a.detected_by, a.confidence, a.latitude, a.longitude, a.site_id, a.distance
		FROM notifications n
		JOIN site_alerts a ON a.id = n.site_alert_id
		WHERE n.is_delivered = false
		ORDER BY n.created_at, n.id
		LIMIT $1`, limit)
	if err != nil {
		return nil, persistErr("pending notifications", err)
	}
	defer rows.Close()

	var out []model.PendingNotification
	for rows.Next() {
		var (
			p    model.PendingNotification
			conf string
		)
		if err := rows.Scan(&p.ID, &p.SiteAlertID, &p.AlertMethod, &p.Destination, &p.CreatedAt,
			&p.Alert.Type, &p.Alert.EventDate, &p.Alert.DetectedBy, &conf,
			&p.Alert.Latitude, &p.Alert.Longitude, &p.Alert.SiteID, &p.Alert.Distance); err != nil {
			return nil, persistErr("pending notifications", err)
		}
		p.Alert.ID = p.SiteAlertID
		p.Alert.Confidence = model.Confidence(conf)
		out = append(out, p)
	}
	return out, persistErr("pending notifications", rows.Err())
}

func (s *Postgres) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE notifications SET is_delivered = true, delivered_at = $2 WHERE id = $1 AND is_delivered = false`,
		id, at)
	return persistErr("mark delivered", err)
}

func (s *Postgres) SweepStaleEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE geo_events SET is_processed = true WHERE is_processed = false AND event_date < $1`,
		olderThan)
	if err != nil {
		return 0, persistErr("sweep stale events", err)
	}
	return tag.RowsAffected(), nil
}
