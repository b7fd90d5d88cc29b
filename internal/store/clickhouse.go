package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/noctisids/noctis/internal/event"
	"github.com/noctisids/noctis/internal/idserr"
)

// ClickHouseConfig holds connection parameters for the raw-event archive.
type ClickHouseConfig struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
}

// Archive is the optional raw-event archive named in §6's persisted
// layout. InsertBatch reports a failure as a StoreError. No binary or
// worker in this repository opens an Archive or writes to it, so raw
// events are not archived by the running pipeline.
type Archive struct {
	conn driver.Conn
}

func OpenArchive(cfg ClickHouseConfig) (*Archive, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
		DialTimeout: 10 * time.Second,
	})
	if err != nil {
		return nil, &idserr.ConfigError{Field: "clickhouse dsn", Err: err}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		return nil, &idserr.StoreError{Op: "clickhouse ping", Err: err}
	}
	return &Archive{conn: conn}, nil
}

func (a *Archive) Close() error { return a.conn.Close() }

const archiveSchema = `
CREATE TABLE IF NOT EXISTS raw_events (
	id UUID DEFAULT generateUUIDv4(),
	timestamp Float64,
	src_ip String,
	dst_ip String,
	src_port Nullable(UInt16),
	dst_port Nullable(UInt16),
	protocol String,
	packet_size Int32,
	direction String
) ENGINE = MergeTree()
ORDER BY (src_ip, timestamp)`

func (a *Archive) Migrate(ctx context.Context) error {
	if err := a.conn.Exec(ctx, archiveSchema); err != nil {
		return &idserr.StoreError{Op: "migrate archive", Err: err}
	}
	return nil
}

// InsertBatch archives a batch of PacketEvents in one round trip, the usage
// pattern ClickHouse's MergeTree engine is built for.
func (a *Archive) InsertBatch(ctx context.Context, events []event.PacketEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch, err := a.conn.PrepareBatch(ctx, "INSERT INTO raw_events (timestamp, src_ip, dst_ip, src_port, dst_port, protocol, packet_size, direction)")
	if err != nil {
		return &idserr.StoreError{Op: "prepare archive batch", Err: err}
	}
	for _, ev := range events {
		if err := batch.Append(ev.Timestamp, ev.SrcIP, ev.DstIP, ev.SrcPort, ev.DstPort, string(ev.Protocol), int32(ev.PacketSize), string(ev.Direction)); err != nil {
			return &idserr.StoreError{Op: "append archive row", Err: err}
		}
	}
	if err := batch.Send(); err != nil {
		return &idserr.StoreError{Op: "send archive batch", Err: err}
	}
	return nil
}
