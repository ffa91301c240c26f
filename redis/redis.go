package redis

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"piobridge/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gomodule/redigo/redis"
)

func timeoutDialOptions() []redis.DialOption {
	return []redis.DialOption{
		redis.DialConnectTimeout(5 * time.Second),
		redis.DialReadTimeout(5 * time.Second),
		redis.DialWriteTimeout(5 * time.Second),
	}
}

func NewPool(host string, port int, db int) *redis.Pool {
	redisAddr := fmt.Sprintf("%s:%d", host, port)
	opts := append(timeoutDialOptions(), redis.DialDatabase(db))
	return &redis.Pool{
		MaxIdle:     5,
		IdleTimeout: 240 * time.Second,
		Dial:        func() (redis.Conn, error) { return redis.Dial("tcp", redisAddr, opts...) },
	}
}

// Ping fails fast when redis is down, without persistence the relayer must not start
func Ping(pool *redis.Pool) error {
	conn := pool.Get()
	defer conn.Close()
	_, err := conn.Do("PING")
	return err
}

// MarkerStore keeps the relay records of one validator: a hash of records keyed by
// event marker, one set of markers per status and the last scanned source block.
type MarkerStore struct {
	pool   *redis.Pool
	prefix string
}

func NewMarkerStore(pool *redis.Pool, validator common.Address) *MarkerStore {
	return &MarkerStore{
		pool:   pool,
		prefix: fmt.Sprintf("relay:%s", strings.ToLower(validator.Hex())),
	}
}

func (s *MarkerStore) recordsKey() string { return s.prefix + ":processed" }

func (s *MarkerStore) scannedKey() string { return s.prefix + ":scanned" }

func (s *MarkerStore) statusKey(status string) string { return s.prefix + ":status:" + status }

func (s *MarkerStore) IsProcessed(marker types.EventMarker) (bool, error) {
	conn := s.pool.Get()
	defer conn.Close()

	ok, err := redis.Bool(conn.Do("HEXISTS", s.recordsKey(), marker.String()))
	if err != nil {
		return false, fmt.Errorf("redis HEXISTS: %w", err)
	}
	return ok, nil
}

// note that a marker is recorded once, a later record for the same marker replaces it
func (s *MarkerStore) MarkProcessed(rec *types.RelayRecord) error {
	if rec == nil {
		return errors.New("null object to store")
	}
	if rec.Marker == "" || rec.Status == "" {
		return errors.New("relay record cannot have empty marker or status")
	}

	recJSON, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("cannot marshal relay record to JSON: %w", err)
	}

	conn := s.pool.Get()
	defer conn.Close()

	if _, err := conn.Do("HSET", s.recordsKey(), rec.Marker, recJSON); err != nil {
		return fmt.Errorf("redis HSET: %w", err)
	}
	// also add the marker to the corresponding status set
	if _, err := conn.Do("SADD", s.statusKey(rec.Status), rec.Marker); err != nil {
		return fmt.Errorf("redis SADD: %w", err)
	}
	return nil
}

// Records returns every relay record ordered by processing time
func (s *MarkerStore) Records() ([]*types.RelayRecord, error) {
	conn := s.pool.Get()
	defer conn.Close()

	values, err := redis.ByteSlices(conn.Do("HVALS", s.recordsKey()))
	if err != nil {
		return nil, fmt.Errorf("redis HVALS: %w", err)
	}

	res := make([]*types.RelayRecord, 0, len(values))
	for _, v := range values {
		var rec types.RelayRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return nil, err
		}
		res = append(res, &rec)
	}
	sort.SliceStable(res, func(i, j int) bool {
		if res[i].TsProcessed != res[j].TsProcessed {
			return res[i].TsProcessed < res[j].TsProcessed
		}
		return res[i].Marker < res[j].Marker
	})
	return res, nil
}

// RecordsByStatus scans the status set, e.g. to list conflicts
func (s *MarkerStore) RecordsByStatus(status string) ([]*types.RelayRecord, error) {
	conn := s.pool.Get()
	defer conn.Close()

	res := make([]*types.RelayRecord, 0)
	var cursor int64

	for {
		values, err := redis.Values(conn.Do("SSCAN", s.statusKey(status), cursor))
		if err != nil {
			return nil, fmt.Errorf("redis SSCAN: %w", err)
		}

		var markers []string
		if _, err := redis.Scan(values, &cursor, &markers); err != nil {
			return nil, err
		}

		for _, m := range markers {
			raw, err := redis.Bytes(conn.Do("HGET", s.recordsKey(), m))
			if errors.Is(err, redis.ErrNil) {
				// set and hash are written separately, a record can be missing
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("redis HGET: %w", err)
			}
			var rec types.RelayRecord
			if err := json.Unmarshal(raw, &rec); err != nil {
				return nil, err
			}
			if rec.Status == status {
				res = append(res, &rec)
			}
		}

		if cursor == 0 {
			break
		}
	}

	return res, nil
}

func (s *MarkerStore) LastScannedBlock() (int64, error) {
	conn := s.pool.Get()
	defer conn.Close()

	block, err := redis.Int64(conn.Do("GET", s.scannedKey()))
	if err == nil {
		return block, nil
	}
	if errors.Is(err, redis.ErrNil) {
		return -1, nil
	}
	return -1, fmt.Errorf("redis GET: %w", err)
}

func (s *MarkerStore) SetLastScannedBlock(block uint64) error {
	conn := s.pool.Get()
	defer conn.Close()

	if _, err := conn.Do("SET", s.scannedKey(), block); err != nil {
		return fmt.Errorf("redis SET: %w", err)
	}
	return nil
}

const alertsKey = "alerts"

// AlertStore is the shared security alert list, capped at max entries
type AlertStore struct {
	pool *redis.Pool
	max  int
}

func NewAlertStore(pool *redis.Pool, max int) *AlertStore {
	return &AlertStore{pool: pool, max: max}
}

func (s *AlertStore) Raise(alert *types.SecurityAlert) error {
	alertJSON, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("cannot marshal alert to JSON: %w", err)
	}

	conn := s.pool.Get()
	defer conn.Close()

	if _, err := conn.Do("RPUSH", alertsKey, alertJSON); err != nil {
		return fmt.Errorf("redis RPUSH: %w", err)
	}
	if s.max > 0 {
		if _, err := conn.Do("LTRIM", alertsKey, -s.max, -1); err != nil {
			return fmt.Errorf("redis LTRIM: %w", err)
		}
	}
	return nil
}

func (s *AlertStore) Recent(limit int) ([]*types.SecurityAlert, error) {
	conn := s.pool.Get()
	defer conn.Close()

	start := 0
	if limit > 0 {
		start = -limit
	}
	values, err := redis.ByteSlices(conn.Do("LRANGE", alertsKey, start, -1))
	if err != nil {
		return nil, fmt.Errorf("redis LRANGE: %w", err)
	}

	res := make([]*types.SecurityAlert, 0, len(values))
	for _, v := range values {
		var alert types.SecurityAlert
		if err := json.Unmarshal(v, &alert); err != nil {
			return nil, err
		}
		res = append(res, &alert)
	}
	return res, nil
}
