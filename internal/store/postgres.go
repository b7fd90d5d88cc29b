// Package store implements the Postgres-backed persistence layer (C2) that
// every detection layer depends on through its own narrow interface. One
// Store value satisfies aggregator.Sink, rules.AlertSink, stats.Store,
// ml.Store, hybrid.Store and orchestrator.WindowReader, following the
// teacher fleet's pattern of a single *sql.DB wrapped in one client type.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/noctisids/noctis/internal/aggregator"
	"github.com/noctisids/noctis/internal/hybrid"
	"github.com/noctisids/noctis/internal/idserr"
	"github.com/noctisids/noctis/internal/ml"
	"github.com/noctisids/noctis/internal/rules"
	"github.com/noctisids/noctis/internal/stats"
)

// Store wraps a Postgres connection pool. Event, alert, score and verdict
// timestamps are stored as epoch-second DOUBLE PRECISION columns rather than
// TIMESTAMPTZ (host_baselines.last_updated and ml_model_meta.trained_at are
// the TIMESTAMPTZ exceptions), since
// every detection layer's native clock is the float64 seconds carried on
// event.PacketEvent; converting at the boundary would just reintroduce the
// rounding the rest of the pipeline avoids.
type Store struct {
	db *sql.DB
}

// Config holds the Postgres connection parameters, mirroring the fleet's
// PostgresConfig shape.
type Config struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	SSLMode  string
}

func Open(cfg Config) (*Store, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database, cfg.SSLMode,
	)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, &idserr.ConfigError{Field: "postgres dsn", Err: err}
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, &idserr.StoreError{Op: "ping", Err: err}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

const schema = `
CREATE TABLE IF NOT EXISTS aggregated_metrics (
	id BIGSERIAL PRIMARY KEY,
	src_ip TEXT NOT NULL,
	metric_name TEXT NOT NULL,
	metric_value DOUBLE PRECISION NOT NULL,
	window_start BIGINT NOT NULL,
	window_end BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_aggregated_metrics_lookup
	ON aggregated_metrics (src_ip, metric_name, window_start DESC);
CREATE INDEX IF NOT EXISTS idx_aggregated_metrics_window
	ON aggregated_metrics (window_start);

CREATE TABLE IF NOT EXISTS host_baselines (
	src_ip TEXT NOT NULL,
	metric_name TEXT NOT NULL,
	mu DOUBLE PRECISION NOT NULL,
	sigma DOUBLE PRECISION NOT NULL,
	min DOUBLE PRECISION NOT NULL,
	max DOUBLE PRECISION NOT NULL,
	sample_count INTEGER NOT NULL,
	last_updated TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (src_ip, metric_name)
);

CREATE TABLE IF NOT EXISTS signature_rules (
	sid INTEGER PRIMARY KEY,
	raw TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	enabled BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS signature_alerts (
	id BIGSERIAL PRIMARY KEY,
	timestamp DOUBLE PRECISION NOT NULL,
	sid INTEGER NOT NULL,
	src_ip TEXT NOT NULL,
	dst_ip TEXT NOT NULL,
	src_port INTEGER,
	dst_port INTEGER,
	protocol TEXT NOT NULL,
	msg TEXT NOT NULL,
	severity TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signature_alerts_lookup ON signature_alerts (src_ip, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_signature_alerts_severity ON signature_alerts (severity);

CREATE TABLE IF NOT EXISTS stat_alerts (
	id BIGSERIAL PRIMARY KEY,
	timestamp DOUBLE PRECISION NOT NULL,
	src_ip TEXT NOT NULL,
	metric TEXT NOT NULL,
	current DOUBLE PRECISION NOT NULL,
	mean DOUBLE PRECISION NOT NULL,
	std DOUBLE PRECISION NOT NULL,
	z_score DOUBLE PRECISION NOT NULL,
	severity TEXT NOT NULL,
	description TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_stat_alerts_lookup ON stat_alerts (src_ip, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_stat_alerts_severity ON stat_alerts (severity);

CREATE TABLE IF NOT EXISTS ml_alerts (
	id BIGSERIAL PRIMARY KEY,
	timestamp DOUBLE PRECISION NOT NULL,
	src_ip TEXT NOT NULL,
	ml_score DOUBLE PRECISION NOT NULL,
	stat_score DOUBLE PRECISION NOT NULL,
	combined_score DOUBLE PRECISION NOT NULL,
	severity TEXT NOT NULL,
	description TEXT NOT NULL,
	top_features JSONB
);
CREATE INDEX IF NOT EXISTS idx_ml_alerts_lookup ON ml_alerts (src_ip, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_ml_alerts_severity ON ml_alerts (severity);

CREATE TABLE IF NOT EXISTS training_samples (
	id BIGSERIAL PRIMARY KEY,
	src_ip TEXT NOT NULL,
	window_start BIGINT NOT NULL,
	connections_count DOUBLE PRECISION NOT NULL,
	unique_ports DOUBLE PRECISION NOT NULL,
	unique_dst_ips DOUBLE PRECISION NOT NULL,
	total_bytes DOUBLE PRECISION NOT NULL,
	avg_packet_size DOUBLE PRECISION NOT NULL,
	is_normal BOOLEAN NOT NULL DEFAULT TRUE,
	UNIQUE (src_ip, window_start)
);

CREATE TABLE IF NOT EXISTS ml_model_meta (
	singleton BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (singleton),
	path TEXT NOT NULL,
	trained_at TIMESTAMPTZ NOT NULL,
	n_samples INTEGER NOT NULL,
	is_trained BOOLEAN NOT NULL
);

CREATE TABLE IF NOT EXISTS ml_scores (
	src_ip TEXT PRIMARY KEY,
	timestamp DOUBLE PRECISION NOT NULL,
	ml_score DOUBLE PRECISION NOT NULL,
	stat_score DOUBLE PRECISION NOT NULL,
	combined_score DOUBLE PRECISION NOT NULL,
	ml_active BOOLEAN NOT NULL,
	top_features JSONB
);

CREATE TABLE IF NOT EXISTS hybrid_verdicts (
	id BIGSERIAL PRIMARY KEY,
	timestamp DOUBLE PRECISION NOT NULL,
	src_ip TEXT NOT NULL,
	sig_score DOUBLE PRECISION NOT NULL,
	stat_score DOUBLE PRECISION NOT NULL,
	ml_score DOUBLE PRECISION NOT NULL,
	combined DOUBLE PRECISION NOT NULL,
	severity TEXT NOT NULL,
	confidence TEXT NOT NULL,
	details JSONB
);
CREATE INDEX IF NOT EXISTS idx_hybrid_verdicts_lookup ON hybrid_verdicts (src_ip, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_hybrid_verdicts_severity ON hybrid_verdicts (severity);
`

// Migrate creates every table and index the engine needs, idempotently.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return &idserr.StoreError{Op: "migrate", Err: err}
	}
	return nil
}

var metricColumns = aggregator.MetricNames

// UpsertWindow persists a closed Window as one narrow row per metric,
// satisfying aggregator.Sink.
func (s *Store) UpsertWindow(ctx context.Context, w aggregator.Window) error {
	values := w.Metrics.Values()
	var b strings.Builder
	args := make([]interface{}, 0, len(metricColumns)*5)
	b.WriteString("INSERT INTO aggregated_metrics (src_ip, metric_name, metric_value, window_start, window_end) VALUES ")
	for i, metric := range metricColumns {
		if i > 0 {
			b.WriteString(", ")
		}
		base := i * 5
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4, base+5)
		args = append(args, w.SrcIP, metric, values[metric], w.WindowStart, w.WindowEnd)
	}
	if _, err := s.db.ExecContext(ctx, b.String(), args...); err != nil {
		return &idserr.StoreError{Op: "upsert window", Err: err}
	}
	return nil
}

// RecentWindows reconstructs the closed windows observed since sinceTS by
// pivoting the narrow aggregated_metrics rows back into MetricVectors,
// satisfying orchestrator.WindowReader.
func (s *Store) RecentWindows(ctx context.Context, sinceTS float64) ([]aggregator.Window, error) {
	query := fmt.Sprintf(`
		SELECT src_ip, window_start, MAX(window_end),
			%s
		FROM aggregated_metrics
		WHERE window_start >= $1
		GROUP BY src_ip, window_start
		ORDER BY window_start`, pivotColumns())
	rows, err := s.db.QueryContext(ctx, query, int64(sinceTS))
	if err != nil {
		return nil, &idserr.StoreError{Op: "recent windows", Err: err}
	}
	defer rows.Close()

	var out []aggregator.Window
	for rows.Next() {
		var w aggregator.Window
		var connections, ports, dstIPs, totalBytes, avgSize sql.NullFloat64
		if err := rows.Scan(&w.SrcIP, &w.WindowStart, &w.WindowEnd, &connections, &ports, &dstIPs, &totalBytes, &avgSize); err != nil {
			return nil, &idserr.StoreError{Op: "scan recent window", Err: err}
		}
		w.Metrics = aggregator.MetricVector{
			ConnectionsCount: int(connections.Float64),
			UniquePorts:      int(ports.Float64),
			UniqueDstIPs:     int(dstIPs.Float64),
			TotalBytes:       int64(totalBytes.Float64),
			AvgPacketSize:    avgSize.Float64,
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// pivotColumns builds the conditional-aggregation column list shared by
// RecentWindows and UntrainedVectors, in aggregator.MetricNames order.
func pivotColumns() string {
	cols := make([]string, len(metricColumns))
	for i, m := range metricColumns {
		cols[i] = fmt.Sprintf("MAX(CASE WHEN metric_name = '%s' THEN metric_value END)", m)
	}
	return strings.Join(cols, ",\n\t\t\t")
}

// RecentMetricValues satisfies stats.Store.
func (s *Store) RecentMetricValues(ctx context.Context, srcIP, metric string, limit int) ([]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT metric_value FROM aggregated_metrics
		WHERE src_ip = $1 AND metric_name = $2
		ORDER BY window_start DESC LIMIT $3`, srcIP, metric, limit)
	if err != nil {
		return nil, &idserr.StoreError{Op: "recent metric values", Err: err}
	}
	defer rows.Close()
	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, &idserr.StoreError{Op: "scan metric value", Err: err}
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// GetBaseline satisfies stats.Store.
func (s *Store) GetBaseline(ctx context.Context, srcIP, metric string) (*stats.Baseline, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT src_ip, metric_name, mu, sigma, min, max, sample_count, last_updated
		FROM host_baselines WHERE src_ip = $1 AND metric_name = $2`, srcIP, metric)
	var b stats.Baseline
	err := row.Scan(&b.SrcIP, &b.Metric, &b.Mean, &b.Std, &b.Min, &b.Max, &b.SampleCount, &b.LastUpdated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &idserr.StoreError{Op: "get baseline", Err: err}
	}
	return &b, nil
}

// GetBaselines satisfies ml.Store, returning every metric's baseline for a
// host keyed by metric name.
func (s *Store) GetBaselines(ctx context.Context, srcIP string) (map[string]stats.Baseline, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT metric_name, mu, sigma, min, max, sample_count, last_updated
		FROM host_baselines WHERE src_ip = $1`, srcIP)
	if err != nil {
		return nil, &idserr.StoreError{Op: "get baselines", Err: err}
	}
	defer rows.Close()
	out := make(map[string]stats.Baseline)
	for rows.Next() {
		var b stats.Baseline
		b.SrcIP = srcIP
		if err := rows.Scan(&b.Metric, &b.Mean, &b.Std, &b.Min, &b.Max, &b.SampleCount, &b.LastUpdated); err != nil {
			return nil, &idserr.StoreError{Op: "scan baseline", Err: err}
		}
		out[b.Metric] = b
	}
	return out, rows.Err()
}

// UpsertBaseline satisfies stats.Store.
func (s *Store) UpsertBaseline(ctx context.Context, b stats.Baseline) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO host_baselines (src_ip, metric_name, mu, sigma, min, max, sample_count, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (src_ip, metric_name) DO UPDATE SET
			mu = EXCLUDED.mu, sigma = EXCLUDED.sigma, min = EXCLUDED.min, max = EXCLUDED.max,
			sample_count = EXCLUDED.sample_count, last_updated = EXCLUDED.last_updated`,
		b.SrcIP, b.Metric, b.Mean, b.Std, b.Min, b.Max, b.SampleCount, b.LastUpdated)
	if err != nil {
		return &idserr.StoreError{Op: "upsert baseline", Err: err}
	}
	return nil
}

// InsertStatAlert satisfies stats.Store.
func (s *Store) InsertStatAlert(ctx context.Context, a stats.Alert) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stat_alerts (timestamp, src_ip, metric, current, mean, std, z_score, severity, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.Timestamp, a.SrcIP, a.Metric, a.Current, a.Mean, a.Std, a.ZScore, a.Severity, a.Description)
	if err != nil {
		return &idserr.StoreError{Op: "insert stat alert", Err: err}
	}
	return nil
}

// HasSignatureAlertInWindow satisfies stats.Store, implementing the
// anti-attack-training guard.
func (s *Store) HasSignatureAlertInWindow(ctx context.Context, srcIP string, windowStart, windowEnd int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM signature_alerts WHERE src_ip = $1 AND timestamp >= $2 AND timestamp < $3)`,
		srcIP, windowStart, windowEnd).Scan(&exists)
	if err != nil {
		return false, &idserr.StoreError{Op: "has signature alert in window", Err: err}
	}
	return exists, nil
}

// InsertSignatureAlert satisfies rules.AlertSink.
func (s *Store) InsertSignatureAlert(ctx context.Context, a rules.Alert) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signature_alerts (timestamp, sid, src_ip, dst_ip, src_port, dst_port, protocol, msg, severity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.Timestamp, a.Sid, a.SrcIP, a.DstIP, nullablePort(a.SrcPort), nullablePort(a.DstPort), a.Protocol, a.Msg, a.Severity)
	if err != nil {
		return &idserr.StoreError{Op: "insert signature alert", Err: err}
	}
	return nil
}

// RecentSignatureAlerts satisfies hybrid.Store.
func (s *Store) RecentSignatureAlerts(ctx context.Context, srcIP string, sinceTS float64) ([]rules.Alert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, sid, src_ip, dst_ip, src_port, dst_port, protocol, msg, severity
		FROM signature_alerts WHERE src_ip = $1 AND timestamp >= $2
		ORDER BY timestamp DESC`, srcIP, sinceTS)
	if err != nil {
		return nil, &idserr.StoreError{Op: "recent signature alerts", Err: err}
	}
	defer rows.Close()
	var out []rules.Alert
	for rows.Next() {
		var a rules.Alert
		var srcPort, dstPort sql.NullInt32
		if err := rows.Scan(&a.Timestamp, &a.Sid, &a.SrcIP, &a.DstIP, &srcPort, &dstPort, &a.Protocol, &a.Msg, &a.Severity); err != nil {
			return nil, &idserr.StoreError{Op: "scan signature alert", Err: err}
		}
		if srcPort.Valid {
			p := uint16(srcPort.Int32)
			a.SrcPort = &p
		}
		if dstPort.Valid {
			p := uint16(dstPort.Int32)
			a.DstPort = &p
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UntrainedVectors satisfies ml.Store.
func (s *Store) UntrainedVectors(ctx context.Context) ([]ml.TrainingVector, error) {
	query := fmt.Sprintf(`
		SELECT am.src_ip, am.window_start,
			%s
		FROM aggregated_metrics am
		WHERE NOT EXISTS (
			SELECT 1 FROM training_samples ts
			WHERE ts.src_ip = am.src_ip AND ts.window_start = am.window_start
		)
		GROUP BY am.src_ip, am.window_start`, pivotColumns())
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &idserr.StoreError{Op: "untrained vectors", Err: err}
	}
	defer rows.Close()

	var out []ml.TrainingVector
	for rows.Next() {
		var tv ml.TrainingVector
		var connections, ports, dstIPs, totalBytes, avgSize sql.NullFloat64
		if err := rows.Scan(&tv.SrcIP, &tv.WindowStart, &connections, &ports, &dstIPs, &totalBytes, &avgSize); err != nil {
			return nil, &idserr.StoreError{Op: "scan untrained vector", Err: err}
		}
		tv.Vector = []float64{connections.Float64, ports.Float64, dstIPs.Float64, totalBytes.Float64, avgSize.Float64}
		out = append(out, tv)
	}
	return out, rows.Err()
}

// InsertTrainingSamples satisfies ml.Store.
func (s *Store) InsertTrainingSamples(ctx context.Context, vectors []ml.TrainingVector) error {
	if len(vectors) == 0 {
		return nil
	}
	var b strings.Builder
	args := make([]interface{}, 0, len(vectors)*7)
	b.WriteString(`INSERT INTO training_samples
		(src_ip, window_start, connections_count, unique_ports, unique_dst_ips, total_bytes, avg_packet_size, is_normal)
		VALUES `)
	for i, v := range vectors {
		if i > 0 {
			b.WriteString(", ")
		}
		base := i * 7
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, TRUE)", base+1, base+2, base+3, base+4, base+5, base+6, base+7)
		args = append(args, v.SrcIP, v.WindowStart, v.Vector[0], v.Vector[1], v.Vector[2], v.Vector[3], v.Vector[4])
	}
	b.WriteString(" ON CONFLICT (src_ip, window_start) DO NOTHING")
	if _, err := s.db.ExecContext(ctx, b.String(), args...); err != nil {
		return &idserr.StoreError{Op: "insert training samples", Err: err}
	}
	return nil
}

// CountNormalTrainingSamples satisfies ml.Store.
func (s *Store) CountNormalTrainingSamples(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM training_samples WHERE is_normal`).Scan(&n); err != nil {
		return 0, &idserr.StoreError{Op: "count normal training samples", Err: err}
	}
	return n, nil
}

// AllNormalTrainingVectors satisfies ml.Store.
func (s *Store) AllNormalTrainingVectors(ctx context.Context) ([][]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT connections_count, unique_ports, unique_dst_ips, total_bytes, avg_packet_size
		FROM training_samples WHERE is_normal ORDER BY window_start`)
	if err != nil {
		return nil, &idserr.StoreError{Op: "all normal training vectors", Err: err}
	}
	defer rows.Close()
	var out [][]float64
	for rows.Next() {
		v := make([]float64, 5)
		if err := rows.Scan(&v[0], &v[1], &v[2], &v[3], &v[4]); err != nil {
			return nil, &idserr.StoreError{Op: "scan training vector", Err: err}
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// SaveModelMeta satisfies ml.Store.
func (s *Store) SaveModelMeta(ctx context.Context, meta ml.ModelMeta) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ml_model_meta (singleton, path, trained_at, n_samples, is_trained)
		VALUES (TRUE, $1, $2, $3, $4)
		ON CONFLICT (singleton) DO UPDATE SET
			path = EXCLUDED.path, trained_at = EXCLUDED.trained_at,
			n_samples = EXCLUDED.n_samples, is_trained = EXCLUDED.is_trained`,
		meta.Path, meta.TrainedAt, meta.NSamples, meta.IsTrained)
	if err != nil {
		return &idserr.StoreError{Op: "save model meta", Err: err}
	}
	return nil
}

// GetModelMeta satisfies ml.Store.
func (s *Store) GetModelMeta(ctx context.Context) (*ml.ModelMeta, error) {
	var m ml.ModelMeta
	err := s.db.QueryRowContext(ctx, `SELECT path, trained_at, n_samples, is_trained FROM ml_model_meta WHERE singleton`).
		Scan(&m.Path, &m.TrainedAt, &m.NSamples, &m.IsTrained)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &idserr.StoreError{Op: "get model meta", Err: err}
	}
	return &m, nil
}

// InsertMLAlert satisfies ml.Store.
func (s *Store) InsertMLAlert(ctx context.Context, a ml.Alert) error {
	features, err := json.Marshal(a.TopFeatures)
	if err != nil {
		return &idserr.StoreError{Op: "marshal ml alert features", Err: err}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ml_alerts (timestamp, src_ip, ml_score, stat_score, combined_score, severity, description, top_features)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.Timestamp, a.SrcIP, a.MLScore, a.StatScore, a.CombinedScore, a.Severity, a.Description, features)
	if err != nil {
		return &idserr.StoreError{Op: "insert ml alert", Err: err}
	}
	return nil
}

// UpsertMLScore satisfies ml.Store.
func (s *Store) UpsertMLScore(ctx context.Context, srcIP string, ts, mlScore, statScore, combined float64, mlActive bool, topFeatures []stats.FeatureZ) error {
	features, err := json.Marshal(topFeatures)
	if err != nil {
		return &idserr.StoreError{Op: "marshal ml score features", Err: err}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ml_scores (src_ip, timestamp, ml_score, stat_score, combined_score, ml_active, top_features)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (src_ip) DO UPDATE SET
			timestamp = EXCLUDED.timestamp, ml_score = EXCLUDED.ml_score, stat_score = EXCLUDED.stat_score,
			combined_score = EXCLUDED.combined_score, ml_active = EXCLUDED.ml_active, top_features = EXCLUDED.top_features`,
		srcIP, ts, mlScore, statScore, combined, mlActive, features)
	if err != nil {
		return &idserr.StoreError{Op: "upsert ml score", Err: err}
	}
	return nil
}

// LatestMLScore satisfies hybrid.Store.
func (s *Store) LatestMLScore(ctx context.Context, srcIP string) (*hybrid.MLScoreSnapshot, error) {
	var snap hybrid.MLScoreSnapshot
	var features []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT timestamp, ml_score, stat_score, ml_active, top_features FROM ml_scores WHERE src_ip = $1`, srcIP).
		Scan(&snap.Timestamp, &snap.MLScore, &snap.StatScore, &snap.MLActive, &features)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &idserr.StoreError{Op: "latest ml score", Err: err}
	}
	if len(features) > 0 {
		if err := json.Unmarshal(features, &snap.TopFeatures); err != nil {
			return nil, &idserr.StoreError{Op: "unmarshal ml score features", Err: err}
		}
	}
	return &snap, nil
}

// HostsWithRecentWindow satisfies hybrid.Store.
func (s *Store) HostsWithRecentWindow(ctx context.Context, sinceTS float64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT src_ip FROM aggregated_metrics WHERE window_start >= $1`, int64(sinceTS))
	if err != nil {
		return nil, &idserr.StoreError{Op: "hosts with recent window", Err: err}
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var ip string
		if err := rows.Scan(&ip); err != nil {
			return nil, &idserr.StoreError{Op: "scan host", Err: err}
		}
		out = append(out, ip)
	}
	return out, rows.Err()
}

// InsertHybridVerdict satisfies hybrid.Store.
func (s *Store) InsertHybridVerdict(ctx context.Context, v hybrid.Verdict) error {
	details, err := json.Marshal(struct {
		TopFeatures     interface{} `json:"top_features"`
		MatchedMessages []string    `json:"matched_messages"`
	}{v.TopFeatures, v.MatchedMessages})
	if err != nil {
		return &idserr.StoreError{Op: "marshal hybrid verdict details", Err: err}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO hybrid_verdicts (timestamp, src_ip, sig_score, stat_score, ml_score, combined, severity, confidence, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		v.Timestamp, v.SrcIP, v.SigScore, v.StatScore, v.MLScore, v.Combined, v.Severity, v.Confidence, details)
	if err != nil {
		return &idserr.StoreError{Op: "insert hybrid verdict", Err: err}
	}
	return nil
}

// RecentVerdicts serves C9's query API.
func (s *Store) RecentVerdicts(ctx context.Context, limit int) ([]hybrid.Verdict, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, src_ip, sig_score, stat_score, ml_score, combined, severity, confidence
		FROM hybrid_verdicts ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil, &idserr.StoreError{Op: "recent verdicts", Err: err}
	}
	defer rows.Close()
	var out []hybrid.Verdict
	for rows.Next() {
		var v hybrid.Verdict
		if err := rows.Scan(&v.Timestamp, &v.SrcIP, &v.SigScore, &v.StatScore, &v.MLScore, &v.Combined, &v.Severity, &v.Confidence); err != nil {
			return nil, &idserr.StoreError{Op: "scan verdict", Err: err}
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// SaveRules upserts the currently loaded rule set so it survives restarts,
// grounded on the persisted-layout note
// of §6 ("Signature rules: sid PK plus the fields of §3").
func (s *Store) SaveRules(ctx context.Context, rs []rules.Rule) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &idserr.StoreError{Op: "save rules begin tx", Err: err}
	}
	defer tx.Rollback()
	for _, r := range rs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO signature_rules (sid, raw, category, enabled)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (sid) DO UPDATE SET raw = EXCLUDED.raw, category = EXCLUDED.category, enabled = EXCLUDED.enabled`,
			r.Sid, r.Serialize(), r.Category, r.Enabled); err != nil {
			return &idserr.StoreError{Op: "save rule", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &idserr.StoreError{Op: "save rules commit", Err: err}
	}
	return nil
}

// LoadRules reads back every persisted rule that is enabled, for process
// restart; disabled rules are not returned.
func (s *Store) LoadRules(ctx context.Context) ([]rules.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT raw FROM signature_rules WHERE enabled`)
	if err != nil {
		return nil, &idserr.StoreError{Op: "load rules", Err: err}
	}
	defer rows.Close()
	var raws []string
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, &idserr.StoreError{Op: "scan rule", Err: err}
		}
		raws = append(raws, raw)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	parsed, parseErrs := rules.ParseRules(strings.NewReader(strings.Join(raws, "\n")))
	if len(parseErrs) > 0 {
		return parsed, errors.Join(parseErrs...)
	}
	return parsed, nil
}

func nullablePort(p *uint16) interface{} {
	if p == nil {
		return nil
	}
	return int32(*p)
}
